package types

import (
	"fmt"
	"strings"
	"time"
)

// Message is a single message in a channel. Only the fields needed to order messages
// and filter them by author are required; Text is carried for display.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text,omitempty"`
}

// Newer reports whether m was created after other.
// Equal timestamps fall back to the message ID and then to the channel ID, where the
// lexically smaller channel is treated as newer. Distinct messages are never equal.
func (m *Message) Newer(other *Message) bool {
	return compareMessages(m, other) > 0
}

// Older reports whether m was created before other, using the same ordering as Newer.
func (m *Message) Older(other *Message) bool {
	return compareMessages(m, other) < 0
}

// String renders the message for log lines.
func (m *Message) String() string {
	if m == nil {
		return "<none>"
	}
	return fmt.Sprintf("id=%s channel=%s author=%s created=%s",
		m.ID, m.ChannelID, m.AuthorID, m.CreatedAt.UTC().Format(time.RFC3339Nano))
}

func compareMessages(a, b *Message) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return 1
		}
		return -1
	}
	if c := CompareIDs(a.ID, b.ID); c != 0 {
		return c
	}
	// Reverse: the smaller channel ID ranks higher.
	return strings.Compare(b.ChannelID, a.ChannelID)
}

// CompareIDs orders message identifiers. All-digit IDs (snowflakes) are compared
// numerically; everything else, including Slack "1697880000.000100" timestamps whose
// integer part has a fixed width, compares lexically.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) > len(b) {
				return 1
			}
			return -1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Channel is a message-bearing channel inside a container.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContainerID string `json:"container_id"`
}

// Container is the workspace (guild, team, export) that owns a set of channels.
type Container struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source names the message backend a search runs against.
type Source string

const (
	SourceSlack   Source = "slack"
	SourceArchive Source = "archive"
	SourceS3      Source = "s3"
)

// Config represents the lastmsg configuration
type Config struct {
	SourceStr          string        `json:"source" env:"LASTMSG_SOURCE,default=slack"`
	Source             Source        `json:"-"`
	PageSize           int           `json:"page_size" env:"LASTMSG_PAGE_SIZE,default=100"`
	Concurrency        int           `json:"concurrency" env:"LASTMSG_CONCURRENCY,default=4"`
	ChannelFilterPath  string        `json:"channel_filter" env:"LASTMSG_CHANNEL_FILTER"`
	ArchivePath        string        `json:"archive_path" env:"LASTMSG_ARCHIVE_PATH"`
	StatsPath          string        `json:"stats_path" env:"LASTMSG_STATS_PATH"`
	SearchTimeout      time.Duration `json:"search_timeout" env:"LASTMSG_SEARCH_TIMEOUT,default=10m"`
	SlackBotToken      string        `json:"-" env:"SLACK_BOT_TOKEN"`
	SlackRatePerMinute int           `json:"slack_rate_per_minute" env:"SLACK_RATE_PER_MINUTE,default=50"`
	SlackMaxRetries    int           `json:"slack_max_retries" env:"SLACK_MAX_RETRIES,default=3"`

	// Slack export stored in S3
	S3ExportBucket   string `json:"s3_export_bucket" env:"S3_EXPORT_BUCKET"`
	S3ExportPrefix   string `json:"s3_export_prefix" env:"S3_EXPORT_PREFIX"`
	S3ExportRegion   string `json:"s3_export_region" env:"S3_EXPORT_REGION,default=us-east-1"`
	S3ExportEndpoint string `json:"s3_export_endpoint" env:"S3_EXPORT_ENDPOINT"`

	// OpenTelemetry configuration
	OTelEnabled              bool    `json:"otel_enabled" env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `json:"otel_service_name" env:"OTEL_SERVICE_NAME,default=lastmsg"`
	OTelExporterOTLPEndpoint string  `json:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `json:"otel_exporter_otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelResourceAttributes   string  `json:"otel_resource_attributes" env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelTracesSampler        string  `json:"otel_traces_sampler" env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `json:"otel_traces_sampler_arg" env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
	OTelMetricExportInterval int     `json:"otel_metric_export_interval" env:"OTEL_METRIC_EXPORT_INTERVAL,default=60000"`
}
