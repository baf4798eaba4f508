package plugin

import (
	"context"
	"io/ioutil"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
)

const createPlugin = `var plugin = new Plugin(service);`

// JSRule is a passive rule implemented in JavaScript. The script must evaluate
// to a constructor whose instances provide ID(), Name() and Evaluate(exchange).
// A goja runtime is not safe for concurrent use, so evaluations of one JSRule
// are serialized; other rules keep running in parallel.
type JSRule struct {
	vm         *goja.Runtime
	scriptFile string
	sem        chan struct{}
	plugin     goja.Value
	evaluate   goja.Callable
	name       string
	id         int
}

// NewJSRuleFromFile creates a new JS rule and its runtime environment
func NewJSRuleFromFile(filePath string) *JSRule {
	return &JSRule{
		vm:         goja.New(),
		scriptFile: filePath,
		sem:        make(chan struct{}, 1),
	}
}

// Init the rule and its runtime environment, the ID and Name are read once
// and cached. A script that fails to load is a *pscan.ResourceLoadError.
func (r *JSRule) Init() error {
	src, err := ioutil.ReadFile(r.scriptFile)
	if err != nil {
		return &pscan.ResourceLoadError{Resource: r.scriptFile, Err: err}
	}

	plugin, err := r.vm.RunString(string(src))
	if err != nil {
		return &pscan.ResourceLoadError{Resource: r.scriptFile, Err: err}
	}

	r.vm.Set("Plugin", plugin)
	r.vm.Set("service", r.service())
	if _, err = r.vm.RunString(createPlugin); err != nil {
		return &pscan.ResourceLoadError{Resource: r.scriptFile, Err: err}
	}
	r.plugin = r.vm.Get("plugin")

	id, err := r.vm.RunString("plugin.ID()")
	if err != nil {
		return errors.Wrapf(err, "error running plugin.ID() in %s", r.scriptFile)
	}
	r.id = int(id.ToInteger())

	name, err := r.vm.RunString("plugin.Name()")
	if err != nil {
		return errors.Wrapf(err, "error running plugin.Name() in %s", r.scriptFile)
	}
	r.name = name.String()

	obj := r.plugin.ToObject(r.vm)
	evaluate, ok := goja.AssertFunction(obj.Get("Evaluate"))
	if !ok {
		return errors.Errorf("plugin in %s has no Evaluate function", r.scriptFile)
	}
	r.evaluate = evaluate
	return nil
}

// service exposed to scripts
func (r *JSRule) service() map[string]interface{} {
	file := r.scriptFile
	return map[string]interface{}{
		"log": func(msg string) {
			log.Debug().Str("file", file).Msg(msg)
		},
	}
}

// Name of the JS rule
func (r *JSRule) Name() string {
	return r.name
}

// ID of the JS rule
func (r *JSRule) ID() int {
	return r.id
}

// Evaluate runs the script's Evaluate function. When ctx is done the runtime
// is interrupted so a looping script can not hold the worker.
func (r *JSRule) Evaluate(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
			r.vm.ClearInterrupt()
		}
	}()

	ret, err := r.evaluate(r.plugin, r.vm.ToValue(exchangeObject(exchange)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run Evaluate for %s", r.scriptFile)
	}
	return r.toFindings(ret, exchange)
}

func exchangeObject(exchange *pscan.Exchange) map[string]interface{} {
	obj := map[string]interface{}{
		"id":  int64(exchange.ID),
		"uri": exchange.URI(),
	}
	if req := exchange.Request; req != nil {
		obj["method"] = req.Method
		obj["requestHeaders"] = flatten(req.Headers)
	}
	if resp := exchange.Response; resp != nil {
		obj["status"] = resp.StatusCode
		obj["contentType"] = resp.ContentType
		obj["isText"] = resp.IsText
		obj["responseHeaders"] = flatten(resp.Headers)
		if resp.IsText {
			obj["body"] = string(resp.Body)
		}
	}
	return obj
}

func flatten(headers map[string][]string) map[string]string {
	flat := make(map[string]string, len(headers))
	for k, v := range headers {
		flat[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return flat
}

func (r *JSRule) toFindings(ret goja.Value, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, nil
	}

	results, ok := ret.Export().([]interface{})
	if !ok {
		return nil, errors.Errorf("Evaluate in %s must return an array, got %T", r.scriptFile, ret.Export())
	}

	findings := make([]*pscan.Finding, 0, len(results))
	for _, result := range results {
		fields, ok := result.(map[string]interface{})
		if !ok {
			log.Warn().Str("file", r.scriptFile).Msgf("ignoring non object result %T", result)
			continue
		}

		severity, _ := pscan.ParseSeverity(stringField(fields, "severity"))
		confidence, ok := pscan.ParseConfidence(stringField(fields, "confidence"))
		if !ok {
			confidence = pscan.ConfidenceMedium
		}
		findings = append(findings, &pscan.Finding{
			RuleID:      r.id,
			RuleName:    r.name,
			Severity:    severity,
			Confidence:  confidence,
			Description: stringField(fields, "description"),
			Solution:    stringField(fields, "solution"),
			URI:         exchange.URI(),
			Evidence:    stringField(fields, "evidence"),
			ExchangeID:  exchange.ID,
			CWE:         intField(fields, "cwe"),
			WASC:        intField(fields, "wasc"),
			Observed:    time.Now(),
		})
	}
	return findings, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func intField(fields map[string]interface{}, name string) int {
	switch v := fields[name].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
