package s3export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/slackmessages"
	"github.com/ca-srg/lastmsg/internal/types"
)

const dayLayout = "2006-01-02"

// S3API is the subset of the S3 client used to read an export.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config locates a Slack workspace export unpacked into an S3 bucket.
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// exportUser mirrors an entry of users.json.
type exportUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
	Profile  struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
		Email       string `json:"email"`
	} `json:"profile"`
}

// exportChannel mirrors an entry of channels.json.
type exportChannel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
}

// exportMessage mirrors a message in a day file.
type exportMessage struct {
	Type    string `json:"type"`
	SubType string `json:"subtype"`
	User    string `json:"user"`
	BotID   string `json:"bot_id"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
}

// Export serves a Slack export stored in S3 (users.json, channels.json and one
// directory of YYYY-MM-DD.json day files per channel) as a search backend.
type Export struct {
	client   S3API
	bucket   string
	prefix   string
	pageSize int
	logger   *log.Logger

	dirOnce  sync.Once
	dirErr   error
	users    []exportUser
	channels []exportChannel

	mu     sync.Mutex
	days   map[string][]string        // channel name -> day keys, newest first
	loaded map[string][]types.Message // day key -> messages, newest first
	newest map[string][]types.Message // channel ID -> newest page
}

var _ latest.Backend = (*Export)(nil)

// Option configures an Export.
type Option func(*Export)

// WithPageSize bounds the number of messages per page.
func WithPageSize(n int) Option {
	return func(e *Export) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Export) {
		if l != nil {
			e.logger = l
		}
	}
}

// New loads the AWS configuration and returns an Export reading from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Export, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// NewWithClient returns an Export reading through client.
func NewWithClient(client S3API, bucket, prefix string, opts ...Option) *Export {
	// Normalize prefix (ensure trailing slash for non-empty prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	e := &Export{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		pageSize: 100,
		logger:   log.New(os.Stderr, "s3export ", log.LstdFlags),
		days:     make(map[string][]string),
		loaded:   make(map[string][]types.Message),
		newest:   make(map[string][]types.Message),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Container returns the container this export represents. Its ID is the S3 location.
func (e *Export) Container() types.Container {
	id := "s3://" + path.Join(e.bucket, e.prefix)
	name := strings.TrimSuffix(e.prefix, "/")
	if name == "" {
		name = e.bucket
	} else {
		name = path.Base(name)
	}
	return types.Container{ID: id, Name: name}
}

// ResolveContainer accepts an empty identifier or the export's ID or name.
func (e *Export) ResolveContainer(_ context.Context, identifier string) (types.Container, error) {
	c := e.Container()
	ref := strings.TrimSpace(identifier)
	if ref == "" || ref == c.ID || strings.EqualFold(ref, c.Name) || ref == e.bucket {
		return c, nil
	}
	return types.Container{}, latest.ErrNotFound
}

// ResolveUser matches identifier against users.json by ID, name, display name, real
// name or email.
func (e *Export) ResolveUser(ctx context.Context, identifier string) (string, error) {
	if err := e.loadDirectory(ctx); err != nil {
		return "", err
	}
	ref := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if ref == "" {
		return "", latest.ErrNotFound
	}
	for _, u := range e.users {
		if u.ID == ref {
			return u.ID, nil
		}
	}
	for _, u := range e.users {
		if u.Deleted {
			continue
		}
		for _, candidate := range []string{u.Name, u.Profile.DisplayName, u.RealName, u.Profile.RealName, u.Profile.Email} {
			if candidate != "" && strings.EqualFold(candidate, ref) {
				return u.ID, nil
			}
		}
	}
	return "", latest.ErrNotFound
}

// ListChannels returns the non-archived channels of channels.json.
func (e *Export) ListChannels(ctx context.Context, container types.Container) ([]types.Channel, error) {
	if err := e.loadDirectory(ctx); err != nil {
		return nil, err
	}
	out := make([]types.Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		if ch.IsArchived {
			continue
		}
		out = append(out, types.Channel{ID: ch.ID, Name: ch.Name, ContainerID: container.ID})
	}
	return out, nil
}

// CurrentPage returns the newest page read for channel, if any.
func (e *Export) CurrentPage(channel types.Channel) []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newest[channel.ID]
}

// FetchOlder walks the channel's day files from newest to oldest and returns up to the
// page size of messages strictly older than beforeID.
func (e *Export) FetchOlder(ctx context.Context, channel types.Channel, beforeID string) ([]types.Message, error) {
	name, err := e.channelDir(ctx, channel)
	if err != nil {
		return nil, err
	}
	days, err := e.dayKeys(ctx, name)
	if err != nil {
		return nil, err
	}

	start := 0
	if beforeID != "" {
		start = firstDayAtOrBefore(days, slackmessages.ParseTimestamp(beforeID))
	}

	var page []types.Message
	for _, key := range days[start:] {
		msgs, err := e.dayMessages(ctx, key, channel.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if beforeID != "" && types.CompareIDs(m.ID, beforeID) >= 0 {
				continue
			}
			page = append(page, m)
			if len(page) == e.pageSize {
				break
			}
		}
		if len(page) == e.pageSize {
			break
		}
	}

	if beforeID == "" {
		e.mu.Lock()
		e.newest[channel.ID] = page
		e.mu.Unlock()
	}
	return page, nil
}

// firstDayAtOrBefore returns the index of the newest day key whose date is not after
// the day of t, allowing one day of slack for exports written in a local time zone.
func firstDayAtOrBefore(days []string, t time.Time) int {
	limit := t.UTC().AddDate(0, 0, 1).Format(dayLayout)
	for i, key := range days {
		if dayOf(key) <= limit {
			return i
		}
	}
	return len(days)
}

func dayOf(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}

func (e *Export) channelDir(ctx context.Context, channel types.Channel) (string, error) {
	if err := e.loadDirectory(ctx); err != nil {
		return "", err
	}
	for _, ch := range e.channels {
		if ch.ID == channel.ID {
			return ch.Name, nil
		}
	}
	if channel.Name != "" {
		return channel.Name, nil
	}
	return "", fmt.Errorf("channel %s is not part of the export", channel.ID)
}

func (e *Export) loadDirectory(ctx context.Context) error {
	e.dirOnce.Do(func() {
		if err := e.readJSON(ctx, e.prefix+"users.json", &e.users); err != nil && !isNoSuchKey(err) {
			e.dirErr = err
			return
		}
		if err := e.readJSON(ctx, e.prefix+"channels.json", &e.channels); err != nil {
			if !isNoSuchKey(err) {
				e.dirErr = err
				return
			}
			e.logger.Printf("no channels.json under s3://%s/%s", e.bucket, e.prefix)
		}
		sort.Slice(e.channels, func(i, j int) bool { return e.channels[i].ID < e.channels[j].ID })
	})
	return e.dirErr
}

func (e *Export) dayKeys(ctx context.Context, channelName string) ([]string, error) {
	e.mu.Lock()
	keys, ok := e.days[channelName]
	e.mu.Unlock()
	if ok {
		return keys, nil
	}

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(e.prefix + channelName + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list day files of %s: %w", channelName, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if _, err := time.Parse(dayLayout, dayOf(key)); err != nil || !strings.HasSuffix(key, ".json") {
				continue
			}
			keys = append(keys, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	e.mu.Lock()
	e.days[channelName] = keys
	e.mu.Unlock()
	return keys, nil
}

func (e *Export) dayMessages(ctx context.Context, key, channelID string) ([]types.Message, error) {
	e.mu.Lock()
	msgs, ok := e.loaded[key]
	e.mu.Unlock()
	if ok {
		return msgs, nil
	}

	var raw []exportMessage
	if err := e.readJSON(ctx, key, &raw); err != nil {
		return nil, err
	}
	msgs = make([]types.Message, 0, len(raw))
	for _, m := range raw {
		if m.TS == "" {
			continue
		}
		msgs = append(msgs, slackmessages.SlackMessage{
			ChannelID: channelID,
			UserID:    m.User,
			BotID:     m.BotID,
			SubType:   m.SubType,
			Text:      m.Text,
			Timestamp: m.TS,
		}.ToMessage())
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Newer(&msgs[j]) })

	e.mu.Lock()
	e.loaded[key] = msgs
	e.mu.Unlock()
	return msgs, nil
}

func (e *Export) readJSON(ctx context.Context, key string, v any) error {
	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", e.bucket, key, err)
	}
	defer func() {
		if closeErr := out.Body.Close(); closeErr != nil {
			e.logger.Printf("Warning: failed to close S3 object body: %v", closeErr)
		}
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("failed to read s3://%s/%s: %w", e.bucket, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode s3://%s/%s: %w", e.bucket, key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}
