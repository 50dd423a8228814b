package builtin

import (
	"fmt"
	"io"
	"testing"
	"time"

	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func packet(src string, at time.Duration) model.PacketRecord {
	return model.PacketRecord{
		CapturedAt:  base.Add(at),
		Source:      src,
		Destination: "10.0.0.1",
		Protocol:    "TCP",
		Length:      60,
		Ports:       &model.PortPair{Source: 40000, Destination: 80},
	}
}

func TestDDoSRule(t *testing.T) {
	rule := NewDDoSRule(true, "CRITICAL", 5, testLogger())

	for i := 0; i < 5; i++ {
		if hit := rule.Evaluate(packet("10.9.9.9", time.Duration(i)*time.Millisecond)); hit != nil {
			t.Fatalf("packet %d flagged below threshold: %+v", i, hit)
		}
	}
	hit := rule.Evaluate(packet("10.9.9.9", 10*time.Millisecond))
	if hit == nil || !hit.IsAnomaly || hit.Label != "ddos" || hit.Confidence != 0.95 {
		t.Fatalf("sixth packet = %+v, want ddos hit at 0.95", hit)
	}

	if hit := rule.Evaluate(packet("10.8.8.8", 10*time.Millisecond)); hit != nil {
		t.Errorf("other source flagged: %+v", hit)
	}

	if hit := rule.Evaluate(packet("10.9.9.9", 11*time.Second)); hit != nil {
		t.Errorf("new window flagged: %+v", hit)
	}
}

func TestPortScanRule(t *testing.T) {
	rule := NewPortScanRule(true, "HIGH", 3, testLogger())

	for port := 1; port <= 3; port++ {
		p := packet("10.1.1.1", time.Duration(port)*time.Millisecond)
		p.Ports.Destination = port
		if hit := rule.Evaluate(p); hit != nil {
			t.Fatalf("port %d flagged: %+v", port, hit)
		}
	}

	repeat := packet("10.1.1.1", 5*time.Millisecond)
	repeat.Ports.Destination = 3
	if hit := rule.Evaluate(repeat); hit != nil {
		t.Fatalf("repeated port flagged: %+v", hit)
	}

	fourth := packet("10.1.1.1", 6*time.Millisecond)
	fourth.Ports.Destination = 4
	hit := rule.Evaluate(fourth)
	if hit == nil || hit.Label != "port_scan" || hit.Confidence != 0.9 {
		t.Fatalf("fourth port = %+v, want port_scan hit at 0.9", hit)
	}

	noPorts := packet("10.1.1.1", 7*time.Millisecond)
	noPorts.Ports = nil
	if hit := rule.Evaluate(noPorts); hit != nil {
		t.Errorf("packet without ports flagged: %+v", hit)
	}
}

func TestTCPResetRule(t *testing.T) {
	rule := NewTCPResetRule(true, "MEDIUM", 2, testLogger())

	syn := packet("10.2.2.2", 0)
	syn.Flags = "S"
	for i := 0; i < 5; i++ {
		if hit := rule.Evaluate(syn); hit != nil {
			t.Fatalf("SYN flagged: %+v", hit)
		}
	}

	var last *model.ScoreResult
	for i := 0; i < 3; i++ {
		rst := packet("10.2.2.2", time.Duration(i)*time.Second)
		rst.Flags = "R."
		last = rule.Evaluate(rst)
	}
	if last == nil || last.Label != "tcp_reset_surge" || last.Confidence != 0.85 {
		t.Errorf("third reset = %+v, want tcp_reset_surge hit at 0.85", last)
	}
}

func TestOutboundRule(t *testing.T) {
	rule := NewOutboundRule(true, "LOW", 3, testLogger())

	var hit *model.ScoreResult
	for i := 1; i <= 4; i++ {
		p := packet("10.3.3.3", time.Duration(i)*time.Millisecond)
		p.Destination = fmt.Sprintf("192.168.0.%d", i)
		hit = rule.Evaluate(p)
		if i <= 3 && hit != nil {
			t.Fatalf("destination %d flagged: %+v", i, hit)
		}
	}
	if hit == nil || hit.Label != "suspicious_outbound" || hit.Confidence != 0.8 {
		t.Errorf("fourth destination = %+v, want suspicious_outbound at 0.8", hit)
	}
}

func TestDisabledRulesIgnorePackets(t *testing.T) {
	rule := NewDDoSRule(false, "CRITICAL", 1, testLogger())
	for i := 0; i < 10; i++ {
		if hit := rule.Evaluate(packet("10.4.4.4", 0)); hit != nil {
			t.Fatalf("disabled rule flagged: %+v", hit)
		}
	}
}

func TestWindowsSweepIdleSources(t *testing.T) {
	w := newWindows(time.Second)
	w.observe("a", base)
	w.observe("b", base.Add(100*time.Millisecond))
	if w.len() != 2 {
		t.Fatalf("len = %d, want 2", w.len())
	}

	w.observe("c", base.Add(5*time.Second))
	if w.len() != 1 {
		t.Errorf("len after sweep = %d, want 1", w.len())
	}
}
