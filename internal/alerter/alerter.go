package alerter

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/engine/stats"
	"FlowSpectra/internal/model"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Alert is one rule violation found in an export.
type Alert struct {
	Rule     string
	Record   string
	Field    string
	Operator string
	Limit    float64
	Observed string
}

type rule struct {
	config.AlerterRule
	field flow.Field
	dir   string
}

// Alerter evaluates exported snapshots against threshold rules and sends a
// consolidated notification when any of them fire.
type Alerter struct {
	rules    []rule
	notifier model.Notifier
	cooldown time.Duration

	mu    sync.Mutex
	fired map[string]time.Time

	queue chan string
	wg    sync.WaitGroup
}

// NewAlerter validates the rules. notifier may be nil, alerts are then only logged.
func NewAlerter(cfg config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	a := &Alerter{
		notifier: notifier,
		cooldown: config.Duration(cfg.Cooldown),
		fired:    make(map[string]time.Time),
		queue:    make(chan string, 4),
	}
	for _, r := range cfg.Rules {
		if r.Collector == "" {
			return nil, fmt.Errorf("alert rule %q: collector is required", r.Name)
		}
		f, err := flow.ParseField(r.Field)
		if err != nil {
			return nil, fmt.Errorf("alert rule %q: %w", r.Name, err)
		}
		if _, ok := operators[r.Operator]; !ok {
			return nil, fmt.Errorf("alert rule %q: unsupported operator %q", r.Name, r.Operator)
		}
		dir := r.Direction
		switch dir {
		case "":
			dir = "clt"
		case "clt", "srv":
		default:
			return nil, fmt.Errorf("alert rule %q: unsupported direction %q", r.Name, r.Direction)
		}
		a.rules = append(a.rules, rule{AlerterRule: r, field: f, dir: dir})
	}
	return a, nil
}

var operators = map[string]func(v, t float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
}

// Start runs the notification loop until Stop.
func (a *Alerter) Start() {
	log.Printf("Alerter started with %d rule(s)", len(a.rules))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for body := range a.queue {
			a.send(body)
		}
	}()
}

// Stop drains pending notifications.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.queue)
	a.wg.Wait()
}

// Evaluate returns the alerts of the given snapshots that are not in their
// cooldown window. The snapshot timestamp is the clock of the cooldown.
func (a *Alerter) Evaluate(snapshots []*model.Snapshot) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	var alerts []Alert
	for _, s := range snapshots {
		for _, r := range a.rules {
			if r.Collector != s.Collector {
				continue
			}
			for _, rec := range s.Records {
				if r.Fqdn != "" && r.Fqdn != rec.Key.Fqdn {
					continue
				}
				values := rec.Client
				if r.dir == "srv" {
					values = rec.Server
				}
				raw, ok := values[r.field.String()]
				if !ok {
					continue
				}
				v, err := stats.ParsePretty(raw)
				if err != nil {
					log.Debugf("Alert rule %s: unparsable value %q: %v", r.Name, raw, err)
					continue
				}
				if !operators[r.Operator](v, r.Threshold) {
					continue
				}
				id := r.Name + "|" + rec.Key.String()
				if last, ok := a.fired[id]; ok && s.Timestamp.Sub(last) < a.cooldown {
					continue
				}
				a.fired[id] = s.Timestamp
				alerts = append(alerts, Alert{
					Rule:     r.Name,
					Record:   rec.Key.String(),
					Field:    r.field.String(),
					Operator: r.Operator,
					Limit:    r.Threshold,
					Observed: raw,
				})
			}
		}
	}
	return alerts
}

// Check evaluates the snapshots and queues one notification for everything
// that fired. It never blocks the export path; a full queue drops the batch.
func (a *Alerter) Check(snapshots []*model.Snapshot) {
	alerts := a.Evaluate(snapshots)
	if len(alerts) == 0 {
		return
	}
	for _, al := range alerts {
		log.WithFields(log.Fields{
			"rule":     al.Rule,
			"record":   al.Record,
			"field":    al.Field,
			"observed": al.Observed,
		}).Warn("Alert triggered")
	}
	select {
	case a.queue <- Body(alerts):
	default:
		log.Warnf("Alert notification queue full, dropping %d alert(s)", len(alerts))
	}
}

func (a *Alerter) send(body string) {
	if a.notifier == nil {
		return
	}
	subject := "FlowSpectra Alert Summary"
	if err := a.notifier.Send(subject, body); err != nil {
		log.Errorf("Failed to send alert notification: %v", err)
		return
	}
	log.Info("Alert notification sent successfully.")
}

// Body renders the alerts as the HTML notification body.
func Body(alerts []Alert) string {
	var b strings.Builder
	b.WriteString("<h1>FlowSpectra Alert Summary</h1>")
	fmt.Fprintf(&b, "<p>%d alert(s) were triggered during the last export:</p>", len(alerts))
	for _, al := range alerts {
		fmt.Fprintf(&b, "<hr><h3>Alert: %s</h3><ul>"+
			"<li><b>Destination:</b> <code>%s</code></li>"+
			"<li><b>Condition:</b> <code>%s %s %g</code></li>"+
			"<li><b>Observed Value:</b> <code>%s</code></li></ul>",
			html.EscapeString(al.Rule), html.EscapeString(al.Record),
			al.Field, html.EscapeString(al.Operator), al.Limit, html.EscapeString(al.Observed))
	}
	return b.String()
}
