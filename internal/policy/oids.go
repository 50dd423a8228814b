package policy

import (
	"fmt"
	"hash/fnv"
	"net"
	"strings"

	"netguard/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/gosnmp/gosnmp"
)

// Device counters, read in this order and mapped positionally onto DeviceStats.
const statsBaseOID = ".1.3.6.1.4.1.9999.1.1"

var statsOIDs = []string{
	statsBaseOID + ".1.0", // cpu
	statsBaseOID + ".2.0", // memory
	statsBaseOID + ".3.0", // bandwidth in
	statsBaseOID + ".4.0", // bandwidth out
	statsBaseOID + ".5.0", // connections
	statsBaseOID + ".6.0", // errors
}

// Rule table rows are addressed as <table>.<column>.<policy key>.<rule number>.
const ruleTableOID = ".1.3.6.1.4.1.9999.2.1"

const (
	columnSource      = 2
	columnDestination = 3
	columnProtocol    = 4
	columnPort        = 5
	columnAction      = 6
	columnLimit       = 7
)

var protocolNumbers = map[string]int{
	"TCP":  int(layers.IPProtocolTCP),
	"UDP":  int(layers.IPProtocolUDP),
	"ICMP": int(layers.IPProtocolICMPv4),
}

var actionCodes = map[model.Action]int{
	model.ActionAllow: 1,
	model.ActionDeny:  2,
	model.ActionLimit: 3,
}

// ProtocolNumber maps a protocol name to its IP protocol number; unknown names map to 0.
func ProtocolNumber(name string) int {
	return protocolNumbers[strings.ToUpper(strings.TrimSpace(name))]
}

// ActionCode maps an action to the device's action code; unknown actions map to 0.
func ActionCode(a model.Action) int {
	return actionCodes[model.Action(strings.ToLower(strings.TrimSpace(string(a))))]
}

func policyKey(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

func ruleOID(column int, policyID string, ruleIndex int) string {
	return fmt.Sprintf("%s.%d.%d.%d", ruleTableOID, column, policyKey(policyID), ruleIndex+1)
}

// rulePDUs translates one rule into device writes, in issue order. Optional
// fields produce a write only when present; the action is always written.
func rulePDUs(policyID string, ruleIndex int, r model.Rule) []gosnmp.SnmpPDU {
	r = r.Normalize()
	var pdus []gosnmp.SnmpPDU

	if r.Source != "" {
		pdus = append(pdus, addressPDU(ruleOID(columnSource, policyID, ruleIndex), r.Source))
	}
	if r.Destination != "" {
		pdus = append(pdus, addressPDU(ruleOID(columnDestination, policyID, ruleIndex), r.Destination))
	}
	if r.Protocol != "" {
		pdus = append(pdus, integerPDU(ruleOID(columnProtocol, policyID, ruleIndex), ProtocolNumber(r.Protocol)))
	}
	if r.Port != nil {
		pdus = append(pdus, integerPDU(ruleOID(columnPort, policyID, ruleIndex), *r.Port))
	}
	pdus = append(pdus, integerPDU(ruleOID(columnAction, policyID, ruleIndex), ActionCode(r.Action)))
	if r.Limit != nil {
		pdus = append(pdus, integerPDU(ruleOID(columnLimit, policyID, ruleIndex), *r.Limit))
	}

	return pdus
}

// addressPDU writes plain IPv4 addresses as IpAddress and anything else
// (CIDR blocks, hostnames) as an octet string.
func addressPDU(oid, addr string) gosnmp.SnmpPDU {
	if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.IPAddress, Value: ip.To4().String()}
	}
	return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.OctetString, Value: addr}
}

func integerPDU(oid string, v int) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: v}
}

// statsFromPDUs maps GET results positionally. Missing or non-numeric
// values read as zero.
func statsFromPDUs(vars []gosnmp.SnmpPDU) model.DeviceStats {
	vals := make([]float64, len(statsOIDs))
	for i := 0; i < len(vars) && i < len(vals); i++ {
		switch vars[i].Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			continue
		}
		if n := gosnmp.ToBigInt(vars[i].Value); n != nil {
			f, _ := n.Float64()
			vals[i] = f
		}
	}

	return model.DeviceStats{
		CPU:          vals[0],
		Memory:       vals[1],
		BandwidthIn:  vals[2],
		BandwidthOut: vals[3],
		Connections:  vals[4],
		Errors:       vals[5],
	}
}
