package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/discovery-proxy/pkg/logger"
)

var _ = Describe("Logger", func() {
	var (
		buf bytes.Buffer
		ctx = context.Background()
	)

	BeforeEach(func() {
		buf.Reset()
	})

	Describe("New", func() {
		It("should fall back to stdout for a nil writer", func() {
			Expect(logger.New(nil, "info", "dev")).NotTo(BeNil())
		})

		It("should default to info for invalid level", func() {
			log := logger.New(&buf, "invalid", "dev")
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeFalse())
		})

		DescribeTable("should respect the configured level",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(&buf, level, "dev")
				Expect(log.Enabled(ctx, enabled)).To(BeTrue())
				Expect(log.Enabled(ctx, disabled)).To(BeFalse())
			},
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-1),
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("warn", "WARN", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
		)

		It("should write text with service and environment in dev", func() {
			log := logger.New(&buf, "info", "dev")
			log.Info("hello", slog.String("route", "/svc"))

			Expect(buf.String()).To(ContainSubstring("msg=hello"))
			Expect(buf.String()).To(ContainSubstring("service=discovery-proxy"))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring("route=/svc"))
		})

		It("should write JSON in prod", func() {
			log := logger.New(&buf, "info", "prod")
			log.Info("hello")

			var line map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
			Expect(line).To(HaveKeyWithValue("msg", "hello"))
			Expect(line).To(HaveKeyWithValue("service", "discovery-proxy"))
			Expect(line).To(HaveKeyWithValue("environment", "prod"))
			Expect(line).NotTo(HaveKey("source"))
		})

		It("should add source locations at debug level", func() {
			log := logger.New(&buf, "debug", "prod")
			log.Debug("hello")

			var line map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
			Expect(line).To(HaveKey("source"))
		})
	})
})
