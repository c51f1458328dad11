package channelfilter

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/types"
)

// Config represents the channel filter loaded from YAML
type Config struct {
	Channels Rules `yaml:"channels"`
}

// Rules selects channels by name or ID.
type Rules struct {
	// Include lists glob patterns; when non-empty a channel must match one of them
	Include []string `yaml:"include"`

	// Exclude lists glob patterns that remove a channel even when it is included
	Exclude []string `yaml:"exclude"`
}

// LoadConfig loads and validates a channel filter from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel filter file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse channel filter YAML: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid channel filter: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	check := func(field string, patterns []string) error {
		for i, p := range patterns {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("channels.%s[%d] is empty", field, i)
			}
			if _, err := path.Match(normalize(p), "general"); err != nil {
				return fmt.Errorf("channels.%s[%d] pattern '%s' is invalid: %w", field, i, p, err)
			}
		}
		return nil
	}
	if err := check("include", cfg.Channels.Include); err != nil {
		return err
	}
	return check("exclude", cfg.Channels.Exclude)
}

// normalize folds a channel name or pattern to NFKC lower case so that full-width and
// composed forms match their plain equivalents.
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimPrefix(strings.TrimSpace(s), "#")))
}

// Allows reports whether channel passes the filter. Patterns are matched against both
// the channel name and its ID.
func (c *Config) Allows(channel types.Channel) bool {
	if c == nil {
		return true
	}
	candidates := []string{normalize(channel.Name), normalize(channel.ID)}

	matchesAny := func(patterns []string) bool {
		for _, p := range patterns {
			pattern := normalize(p)
			for _, candidate := range candidates {
				if candidate == "" {
					continue
				}
				if ok, err := path.Match(pattern, candidate); err == nil && ok {
					return true
				}
			}
		}
		return false
	}

	if len(c.Channels.Include) > 0 && !matchesAny(c.Channels.Include) {
		return false
	}
	return !matchesAny(c.Channels.Exclude)
}

// Apply returns the channels that pass the filter, keeping their order.
func (c *Config) Apply(channels []types.Channel) []types.Channel {
	out := make([]types.Channel, 0, len(channels))
	for _, ch := range channels {
		if c.Allows(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Resolver restricts the channels listed by an underlying resolver.
type Resolver struct {
	latest.Resolver
	filter *Config
}

// Wrap returns a Resolver that applies filter to every ListChannels call.
func Wrap(resolver latest.Resolver, filter *Config) *Resolver {
	return &Resolver{Resolver: resolver, filter: filter}
}

// ListChannels lists the underlying channels and drops those the filter rejects.
func (r *Resolver) ListChannels(ctx context.Context, container types.Container) ([]types.Channel, error) {
	channels, err := r.Resolver.ListChannels(ctx, container)
	if err != nil {
		return nil, err
	}
	return r.filter.Apply(channels), nil
}
