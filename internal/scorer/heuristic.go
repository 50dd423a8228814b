package scorer

import "netguard/internal/model"

const (
	LabelSuspicious = "suspicious_traffic"
	LabelNormal     = "normal"

	heuristicMaxLength = 1500
)

var heuristicPorts = map[int]struct{}{
	22:   {},
	3389: {},
}

// Heuristic is the local fallback classifier used when the scoring service
// cannot answer: oversized packets and traffic to remote shell ports are
// suspicious.
func Heuristic(p model.PacketRecord) model.ScoreResult {
	_, remoteShell := heuristicPorts[p.DestinationPort()]
	if p.Length > heuristicMaxLength || remoteShell {
		return model.ScoreResult{
			IsAnomaly:  true,
			Confidence: 0.9,
			Label:      LabelSuspicious,
			Detail:     "heuristic: oversized packet or remote access port",
		}
	}
	return model.ScoreResult{
		IsAnomaly:  false,
		Confidence: 0.1,
		Label:      LabelNormal,
		Detail:     "heuristic",
	}
}
