package policy

import (
	"fmt"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// Session is the request/response channel to the managed device.
type Session interface {
	Connect() error
	Close() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
}

// SessionFactory opens a new, unconnected session for cfg.
type SessionFactory func(cfg Config) Session

type snmpSession struct {
	*gosnmp.GoSNMP
}

// NewSNMPSession is the default SessionFactory.
func NewSNMPSession(cfg Config) Session {
	version := gosnmp.Version2c
	if cfg.Version == "1" {
		version = gosnmp.Version1
	}
	transport := strings.ToLower(cfg.Transport)
	if transport != "tcp" {
		transport = "udp"
	}

	return &snmpSession{
		GoSNMP: &gosnmp.GoSNMP{
			Target:    cfg.Host,
			Port:      cfg.Port,
			Transport: transport,
			Community: cfg.Community,
			Version:   version,
			Timeout:   cfg.Timeout,
			Retries:   cfg.Retries,
			MaxOids:   gosnmp.MaxOids,
		},
	}
}

func (s *snmpSession) Close() error {
	if s.Conn == nil {
		return nil
	}
	err := s.Conn.Close()
	s.Conn = nil
	return err
}

func (s *snmpSession) String() string {
	return fmt.Sprintf("%s://%s:%d", s.Transport, s.Target, s.Port)
}
