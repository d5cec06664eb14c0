package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DebugSink retains unparseable model output for later diagnosis. Injected so
// tests can capture it and production can ship it off-box.
type DebugSink interface {
	Record(ctx context.Context, rawResponse string, context map[string]string)
}

// LogDebugSink writes failures to the structured log. Default sink.
type LogDebugSink struct {
	Logger *logrus.Logger
}

func (s *LogDebugSink) Record(ctx context.Context, rawResponse string, context map[string]string) {
	fields := logrus.Fields{"module": "ingest", "raw_response": rawResponse}
	for k, v := range context {
		fields[k] = v
	}
	s.Logger.WithFields(fields).Warn("retained unparseable model response")
}

// GCSDebugSink uploads the raw and cleaned responses to the debug bucket.
// Upload failures are logged and swallowed; a broken sink must never fail an
// extraction that already failed.
type GCSDebugSink struct {
	Logger *logrus.Logger
}

func (s *GCSDebugSink) Record(ctx context.Context, rawResponse string, context map[string]string) {
	var b strings.Builder
	for k, v := range context {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	b.WriteString("\n--- raw response ---\n")
	b.WriteString(rawResponse)

	objectName := fmt.Sprintf("extraction-debug/%s-%s.txt",
		time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())

	if err := utils.SaveObjectToGCS(ctx, objectName, "text/plain", []byte(b.String())); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"module": "ingest",
			"object": objectName,
		}).Warnf("failed to upload debug artifact: %v", err)
	}
}
