package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/KaramelBytes/agentviz-cli/internal/utils"
)

// ExportCharts writes every chart in c to dir: Plotly specs as
// chart_NN.plotly.json, raster images as chart_NN.png. It returns the written
// paths in chart order. Charts that are not available produce no files, and
// items carrying neither a spec nor an image are skipped without using up a
// number.
func ExportCharts(dir string, c session.Charts) ([]string, error) {
	if c.Status != session.ChartsAvailable || len(c.Items) == 0 {
		return nil, nil
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(c.Items))
	n := 0
	for _, it := range c.Items {
		if isBlank(it) {
			continue
		}
		n++
		base := filepath.Join(dir, fmt.Sprintf("chart_%02d", n))
		var (
			path string
			data []byte
			err  error
		)
		if it.Kind == backend.KindPlotly {
			path = base + ".plotly.json"
			data, err = indentSpec(it.Spec)
		} else {
			path = base + ".png"
			data, err = decodeImage(it.ImageBase64)
		}
		if err != nil {
			return paths, fmt.Errorf("chart %d: %w", n, err)
		}
		if err := utils.SafeWriteFile(path, data); err != nil {
			return paths, fmt.Errorf("chart %d: %w", n, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// isBlank reports a chart with no payload, such as a plotly item whose spec
// was null.
func isBlank(it session.Chart) bool {
	if it.Kind == backend.KindPlotly {
		return false
	}
	return strings.TrimSpace(it.ImageBase64) == ""
}

func indentSpec(spec json.RawMessage) ([]byte, error) {
	b, err := utils.PrettyJSON(spec)
	if err != nil {
		return nil, fmt.Errorf("plotly spec: %w", err)
	}
	return append(b, '\n'), nil
}

// decodeImage accepts bare base64 or a data: URL.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty image")
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return b, nil
}
