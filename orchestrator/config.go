// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from the environment with an
// optional YAML overlay.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	// Passphrase is the shared secret required on /execute and sent on
	// callbacks.
	Passphrase string `yaml:"passphrase"`

	QueueServiceURL          string `yaml:"queue_service_url"`
	QueueCongestionThreshold int    `yaml:"queue_congestion_threshold"`

	DefaultWaterfall string `yaml:"default_waterfall"` // comma-separated model ids

	QuotaCooldown   time.Duration `yaml:"quota_cooldown"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`

	VideoRunnerURL       string `yaml:"video_runner_url"`
	CFAccessClientID     string `yaml:"cf_access_client_id"`
	CFAccessClientSecret string `yaml:"cf_access_client_secret"`
}

// LoadConfig reads configuration from the environment, then overlays the
// YAML file named by CONDUIT_CONFIG_FILE if set. Unusable values are an
// error; the caller should exit non-zero.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8081"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		Passphrase:               os.Getenv("WORKFLOW_PASSPHRASE"),
		QueueServiceURL:          os.Getenv("QUEUE_SERVICE_URL"),
		QueueCongestionThreshold: DefaultQueueCongestionThreshold,
		DefaultWaterfall:         os.Getenv("DEFAULT_MODEL_WATERFALL"),
		QuotaCooldown:            time.Hour,
		PollInterval:             DefaultPollInterval,
		MaxPollAttempts:          DefaultMaxPollAttempts,
		VideoRunnerURL:           os.Getenv("RUNNER_BASE_URL"),
		CFAccessClientID:         os.Getenv("CF_ACCESS_CLIENT_ID"),
		CFAccessClientSecret:     os.Getenv("CF_ACCESS_CLIENT_SECRET"),
	}

	if v := os.Getenv("QUEUE_CONGESTION_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid QUEUE_CONGESTION_THRESHOLD %q", v)
		}
		cfg.QueueCongestionThreshold = n
	}
	if v := os.Getenv("QUOTA_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid QUOTA_COOLDOWN %q", v)
		}
		cfg.QuotaCooldown = d
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q", v)
		}
		cfg.PollInterval = d
	}

	if path := os.Getenv("CONDUIT_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// overlayFile merges non-zero fields from a YAML file over the current
// values. The file wins: it is the operator's explicit choice.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.Port != "" {
		c.Port = overlay.Port
	}
	if overlay.DatabaseURL != "" {
		c.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.RedisAddr != "" {
		c.RedisAddr = overlay.RedisAddr
	}
	if overlay.Passphrase != "" {
		c.Passphrase = overlay.Passphrase
	}
	if overlay.QueueServiceURL != "" {
		c.QueueServiceURL = overlay.QueueServiceURL
	}
	if overlay.QueueCongestionThreshold > 0 {
		c.QueueCongestionThreshold = overlay.QueueCongestionThreshold
	}
	if overlay.DefaultWaterfall != "" {
		c.DefaultWaterfall = overlay.DefaultWaterfall
	}
	if overlay.QuotaCooldown > 0 {
		c.QuotaCooldown = overlay.QuotaCooldown
	}
	if overlay.PollInterval > 0 {
		c.PollInterval = overlay.PollInterval
	}
	if overlay.MaxPollAttempts > 0 {
		c.MaxPollAttempts = overlay.MaxPollAttempts
	}
	if overlay.VideoRunnerURL != "" {
		c.VideoRunnerURL = overlay.VideoRunnerURL
	}
	if overlay.CFAccessClientID != "" {
		c.CFAccessClientID = overlay.CFAccessClientID
	}
	if overlay.CFAccessClientSecret != "" {
		c.CFAccessClientSecret = overlay.CFAccessClientSecret
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
