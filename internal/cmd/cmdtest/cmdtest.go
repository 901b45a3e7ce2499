// Package cmdtest builds applications backed by a real client and a fake
// upstream for command tests.
package cmdtest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup"
	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/records"
)

// Announcements is one upstream page with two announcements. The second
// carries a category outside the taxonomy.
var Announcements = []map[string]any{
	{"pbanc_sn": 174001, "biz_pbanc_nm": "2025년 예비창업패키지", "pbanc_rcpt_bgng_dt": "20250301", "supt_biz_clsfc": "사업화"},
	{"pbanc_sn": 174002, "biz_pbanc_nm": "창업성장기술개발", "pbanc_rcpt_bgng_dt": "20250305", "supt_biz_clsfc": "기술개발(R&D)"},
}

// Upstream serves data as a single page.
func Upstream(data []map[string]any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"currentCount": len(data),
			"totalCount":   len(data),
			"page":         1,
			"perPage":      100,
			"data":         data,
		})
	})
}

// App is a test application and the client behind it.
type App struct {
	*application.Mock
	KClient  kstartup.Client
	Registry *prometheus.Registry
}

// NewApp creates a client with one announcements source served by
// upstream, in a mock application that renders format.
func NewApp(t *testing.T, upstream http.Handler, format string) *App {
	t.Helper()
	logging.DisableLoggingForTest(t)

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	client, err := kstartup.New(
		kstartup.WithSources(fetch.SourceConfig{
			ID:      "announcements",
			Kind:    records.KindAnnouncement,
			BaseURL: srv.URL,
			Auth:    transport.AuthNone,
		}),
		kstartup.WithTransport(transport.Config{Timeout: 5 * time.Second}),
		kstartup.WithRegisterer(reg),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(ctx)
	})

	logger := zerolog.Nop()
	return &App{
		Mock: &application.Mock{
			ClientFunc:       func() (kstartup.Client, error) { return client, nil },
			MetricsFunc:      func() prometheus.Gatherer { return reg },
			LoggerFunc:       func() *zerolog.Logger { return &logger },
			OutputFormatFunc: func() string { return format },
		},
		KClient:  client,
		Registry: reg,
	}
}

// Run executes cmd with args and returns what it wrote to stdout.
func Run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
