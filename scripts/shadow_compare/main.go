// Command shadow_compare replays read-only requests against the legacy portal
// API and this service and reports status or payload-shape drift.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

type target struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	LegacyPath string `json:"legacyPath"`
	Critical   bool   `json:"critical"`
}

type targetFile struct {
	Targets []target `json:"targets"`
}

// defaultTargets mirrors the legacy Next.js API routes.
var defaultTargets = []target{
	{Method: http.MethodGet, Path: "/api/v1/auth/me", LegacyPath: "/api/auth/me", Critical: true},
	{Method: http.MethodGet, Path: "/api/v1/grievances", LegacyPath: "/api/grievances", Critical: true},
	{Method: http.MethodGet, Path: "/api/v1/grievances/stats", LegacyPath: "/api/grievances/stats", Critical: true},
	{Method: http.MethodGet, Path: "/api/v1/grievances/analytics", LegacyPath: "/api/grievances/analytics"},
	{Method: http.MethodGet, Path: "/api/v1/notifications", LegacyPath: "/api/notifications"},
}

// volatileKeys differ between deployments even when behaviour matches.
var volatileKeys = map[string]struct{}{
	"id": {}, "grievanceId": {}, "createdAt": {}, "updatedAt": {}, "generatedAt": {},
	"submittedAt": {}, "closedAt": {}, "currentDurationHours": {}, "currentDurationDays": {},
}

type comparison struct {
	Target        target
	LegacyStatus  int
	GoStatus      int
	StatusMatch   bool
	ShapeDiff     []string
	Err           error
	GoLatency     time.Duration
	LegacyLatency time.Duration
}

func (c comparison) failed() bool {
	return c.Err != nil || !c.StatusMatch || len(c.ShapeDiff) > 0
}

func main() {
	var (
		goBase      string
		legacyBase  string
		targetsPath string
		token       string
		timeout     time.Duration
	)
	flag.StringVar(&goBase, "go-base", "http://localhost:8080", "Go API base URL")
	flag.StringVar(&legacyBase, "legacy-base", "http://localhost:3000", "Legacy portal base URL")
	flag.StringVar(&targetsPath, "targets", "", "Optional JSON targets file")
	flag.StringVar(&token, "token", os.Getenv("SHADOW_TOKEN"), "Bearer token sent to both backends")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	logr, _ := zap.NewDevelopment()
	defer logr.Sync() //nolint:errcheck

	targets := defaultTargets
	if targetsPath != "" {
		loaded, err := loadTargets(targetsPath)
		if err != nil {
			logr.Fatal("failed to load targets", zap.String("path", targetsPath), zap.Error(err))
		}
		targets = loaded
	}

	client := &http.Client{Timeout: timeout}
	breaking, optional := 0, 0
	results := make([]comparison, 0, len(targets))
	for _, t := range targets {
		res := compareTarget(client, goBase, legacyBase, token, t)
		if res.failed() {
			if t.Critical {
				breaking++
			} else {
				optional++
			}
		}
		results = append(results, res)
	}

	printReport(os.Stdout, results)
	logr.Info("shadow compare finished", zap.Int("breaking", breaking), zap.Int("optional", optional))
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file targetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return file.Targets, nil
}

func compareTarget(client *http.Client, goBase, legacyBase, token string, t target) comparison {
	res := comparison{Target: t}
	legacyPath := t.LegacyPath
	if legacyPath == "" {
		legacyPath = t.Path
	}

	goStatus, goBody, goLatency, err := fetch(client, goBase, t.Path, t.Method, token)
	if err != nil {
		res.Err = fmt.Errorf("go request failed: %w", err)
		return res
	}
	legacyStatus, legacyBody, legacyLatency, err := fetch(client, legacyBase, legacyPath, t.Method, token)
	if err != nil {
		res.Err = fmt.Errorf("legacy request failed: %w", err)
		return res
	}

	res.GoStatus, res.LegacyStatus = goStatus, legacyStatus
	res.GoLatency, res.LegacyLatency = goLatency, legacyLatency
	res.StatusMatch = goStatus == legacyStatus
	if res.StatusMatch && goStatus < 300 {
		res.ShapeDiff, res.Err = shapeDiff(unwrapEnvelope(goBody), legacyBody)
	}
	return res
}

func fetch(client *http.Client, base, path, method, token string) (int, []byte, time.Duration, error) {
	if client == nil {
		return 0, nil, 0, errors.New("nil client")
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, time.Since(start), err
}

// unwrapEnvelope returns the data member of a {data, meta} envelope, or the
// body unchanged when it is not one.
func unwrapEnvelope(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 {
		return body
	}
	return envelope.Data
}

// shapeDiff lists JSON paths whose presence or kind differs. Values are not
// compared except for non-volatile scalars at matching paths.
func shapeDiff(goBody, legacyBody []byte) ([]string, error) {
	var a, b interface{}
	if err := json.Unmarshal(goBody, &a); err != nil {
		return nil, fmt.Errorf("decode go body: %w", err)
	}
	if err := json.Unmarshal(legacyBody, &b); err != nil {
		return nil, fmt.Errorf("decode legacy body: %w", err)
	}
	var diffs []string
	walk("$", a, b, &diffs)
	sort.Strings(diffs)
	return diffs, nil
}

func walk(path string, a, b interface{}, diffs *[]string) {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			*diffs = append(*diffs, path+": object vs "+kind(b))
			return
		}
		for key, child := range av {
			other, exists := bv[key]
			if !exists {
				*diffs = append(*diffs, path+"."+key+": missing in legacy")
				continue
			}
			if _, volatile := volatileKeys[key]; volatile {
				continue
			}
			walk(path+"."+key, child, other, diffs)
		}
		for key := range bv {
			if _, exists := av[key]; !exists {
				*diffs = append(*diffs, path+"."+key+": missing in go")
			}
		}
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok {
			*diffs = append(*diffs, path+": array vs "+kind(b))
			return
		}
		if len(av) != len(bv) {
			*diffs = append(*diffs, fmt.Sprintf("%s: length %d vs %d", path, len(av), len(bv)))
			return
		}
		for i := range av {
			walk(fmt.Sprintf("%s[%d]", path, i), av[i], bv[i], diffs)
		}
	default:
		if kind(a) != kind(b) {
			*diffs = append(*diffs, path+": "+kind(a)+" vs "+kind(b))
			return
		}
		if a != b {
			*diffs = append(*diffs, fmt.Sprintf("%s: %v vs %v", path, a, b))
		}
	}
}

func kind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func printReport(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "Shadow Compare Report")
	fmt.Fprintln(w, "=====================")
	for _, res := range results {
		status := "OK"
		switch {
		case res.Err != nil:
			status = "ERROR"
		case res.failed():
			status = "DIFF"
		}
		fmt.Fprintf(w, "[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Fprintf(w, "  go: %d (%s) | legacy: %d (%s)\n", res.GoStatus, res.GoLatency, res.LegacyStatus, res.LegacyLatency)
		if res.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", res.Err)
		}
		for _, diff := range res.ShapeDiff {
			fmt.Fprintf(w, "  - %s\n", diff)
		}
	}
}
