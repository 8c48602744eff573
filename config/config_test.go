package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatch-balancer/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:      ":5000",
			Environment:  config.EnvDev,
			ReadTimeout:  "15s",
			WriteTimeout: "0s",
			IdleTimeout:  "60s",
		},
		HealthCheck: config.HealthCheckConfig{Interval: "10s", Timeout: "5s", Path: "/"},
		Strategy: config.StrategyConfig{
			Type:     config.StrategyRoundRobin,
			Affinity: config.AffinityConfig{Header: "X-Api-Type"},
		},
		Backends: []config.BackendConfig{
			{URL: "http://localhost:4001", Weight: 1},
			{URL: "http://localhost:4002", Weight: 3},
		},
		RateLimit: config.RateLimitConfig{Requests: 10, Window: "2m"},
		Metrics:   config.MetricsConfig{BufferSize: 1024},
		Logging:   config.LoggingConfig{Level: config.LogLevelInfo},
	}
}

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	writeConfig := func(content string) {
		err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
server:
  address: ":8080"
  environment: "dev"
  write_timeout: "30s"

health_check:
  interval: "3s"
  timeout: "1s"
  path: "/health"

strategy:
  type: "weighted-round-robin"

backends:
  - url: "http://localhost:8081"
    weight: 5
  - url: "http://localhost:8082"

logging:
  level: "debug"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load(tempDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse strategy correctly", func() {
				cfg, _ := config.Load(tempDir)
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyWeightedRoundRobin))
			})

			It("should parse health check settings", func() {
				cfg, _ := config.Load(tempDir)
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(3 * time.Second))
				Expect(cfg.HealthCheck.TimeoutDuration()).To(Equal(time.Second))
				Expect(cfg.HealthCheck.Path).To(Equal("/health"))
			})

			It("should keep backend order and default missing weights to 1", func() {
				cfg, _ := config.Load(tempDir)
				Expect(cfg.Backends).To(Equal([]config.BackendConfig{
					{URL: "http://localhost:8081", Weight: 5},
					{URL: "http://localhost:8082", Weight: 1},
				}))
			})

			It("should fill unset keys from defaults", func() {
				cfg, _ := config.Load(tempDir)
				Expect(cfg.Server.ReadTimeoutDuration()).To(Equal(15 * time.Second))
				Expect(cfg.Server.WriteTimeoutDuration()).To(Equal(30 * time.Second))
				Expect(cfg.Strategy.Affinity.Header).To(Equal("X-Api-Type"))
				Expect(cfg.Metrics.BufferSize).To(Equal(1024))
			})
		})

		Context("without a config file", func() {
			It("should use defaults", func() {
				cfg, err := config.Load(tempDir)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":5000"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRoundRobin))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(10 * time.Second))
				Expect(cfg.HealthCheck.TimeoutDuration()).To(Equal(5 * time.Second))
				Expect(cfg.Backends).To(Equal([]config.BackendConfig{
					{URL: "http://localhost:4001", Weight: 1},
					{URL: "http://localhost:4002", Weight: 1},
				}))
				Expect(cfg.RateLimit.Enabled).To(BeFalse())
				Expect(cfg.RateLimit.Requests).To(Equal(10))
				Expect(cfg.RateLimit.WindowDuration()).To(Equal(2 * time.Minute))
				Expect(cfg.RateLimit.TrustForwardedFor).To(BeFalse())
			})

			It("should let environment variables override defaults", func() {
				os.Setenv("STRATEGY_TYPE", "fifo")
				DeferCleanup(os.Unsetenv, "STRATEGY_TYPE")

				cfg, err := config.Load(tempDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyFIFO))
			})
		})

		Context("with an invalid config file", func() {
			It("should reject an unknown strategy", func() {
				writeConfig(`
strategy:
  type: "least-conn"
`)
				_, err := config.Load(tempDir)
				Expect(err).To(HaveOccurred())
			})

			It("should reject malformed yaml", func() {
				writeConfig("server: [unterminated")
				_, err := config.Load(tempDir)
				Expect(err).To(HaveOccurred())
			})

			It("should reject affinity routes to unknown backends", func() {
				writeConfig(`
strategy:
  type: "header-affinity"
  affinity:
    routes:
      - hint: "graphql"
        backend: "http://localhost:9999"
`)
				_, err := config.Load(tempDir)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = validConfig()
		})

		It("should accept a valid config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept an empty backend list", func() {
			cfg.Backends = nil
			Expect(cfg.Validate()).To(Succeed())
		})

		DescribeTable("rejects invalid values",
			func(mutate func(c *config.Config)) {
				mutate(cfg)
				Expect(cfg.Validate()).NotTo(Succeed())
			},
			Entry("bad environment", func(c *config.Config) { c.Server.Environment = "qa" }),
			Entry("bad address", func(c *config.Config) { c.Server.Address = "invalid:host:port" }),
			Entry("bad read timeout", func(c *config.Config) { c.Server.ReadTimeout = "soon" }),
			Entry("zero health interval", func(c *config.Config) { c.HealthCheck.Interval = "0s" }),
			Entry("relative health path", func(c *config.Config) { c.HealthCheck.Path = "health" }),
			Entry("bad log level", func(c *config.Config) { c.Logging.Level = "trace" }),
			Entry("negative weight", func(c *config.Config) { c.Backends[0].Weight = -1 }),
			Entry("backend without scheme", func(c *config.Config) { c.Backends[0].URL = "localhost:4001" }),
			Entry("backend with ftp scheme", func(c *config.Config) { c.Backends[0].URL = "ftp://localhost:4001" }),
			Entry("rate limit without requests", func(c *config.Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Requests = 0
			}),
			Entry("rate limit with bad window", func(c *config.Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Window = "-1m"
			}),
			Entry("affinity route without hint", func(c *config.Config) {
				c.Strategy.Type = config.StrategyHeaderAffinity
				c.Strategy.Affinity.Routes = []config.AffinityRouteConfig{{Hint: " ", Backend: "http://localhost:4001"}}
			}),
			Entry("affinity route to unknown backend", func(c *config.Config) {
				c.Strategy.Type = config.StrategyHeaderAffinity
				c.Strategy.Affinity.Routes = []config.AffinityRouteConfig{{Hint: "rest", Backend: "http://localhost:4003"}}
			}),
		)

		It("should match affinity backends regardless of spelling", func() {
			cfg.Strategy.Type = config.StrategyHeaderAffinity
			cfg.Strategy.Affinity.Routes = []config.AffinityRouteConfig{{Hint: "rest", Backend: "HTTP://LOCALHOST:4002/"}}
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should ignore affinity routes for other strategies", func() {
			cfg.Strategy.Affinity.Routes = []config.AffinityRouteConfig{{Hint: "rest", Backend: "http://localhost:4003"}}
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("AffinityRoutes", func() {
		It("should bind rest to the first backend by default", func() {
			cfg := validConfig()
			Expect(cfg.AffinityRoutes()).To(Equal([]config.AffinityRouteConfig{
				{Hint: config.DefaultAffinityHint, Backend: "http://localhost:4001"},
			}))
		})

		It("should return configured routes unchanged", func() {
			cfg := validConfig()
			cfg.Strategy.Affinity.Routes = []config.AffinityRouteConfig{{Hint: "grpc", Backend: "http://localhost:4002"}}
			Expect(cfg.AffinityRoutes()).To(HaveLen(1))
			Expect(cfg.AffinityRoutes()[0].Hint).To(Equal("grpc"))
		})

		It("should be empty without backends", func() {
			cfg := validConfig()
			cfg.Backends = nil
			Expect(cfg.AffinityRoutes()).To(BeEmpty())
		})
	})
})
