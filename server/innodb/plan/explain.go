package plan

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

const (
	ExplainText = "text"
	ExplainJSON = "json"
)

type explainNode struct {
	NodeType string         `json:"Node Type"`
	Access   string         `json:"Access"`
	PlanRows int64          `json:"Plan Rows,omitempty"`
	Plans    []*explainNode `json:"Plans,omitempty"`
}

func toNode(p Plan) *explainNode {
	n := &explainNode{NodeType: p.ToString(), Access: p.GetPlanAccessType()}
	if rows := p.GetEstimateRows(); rows > 0 {
		n.PlanRows = rows
	}
	for _, c := range p.Children() {
		n.Plans = append(n.Plans, toNode(c))
	}
	return n
}

// Explain 输出计划树
func Explain(p Plan, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", ExplainText:
		var sb strings.Builder
		writeText(&sb, p, 0)
		return sb.String(), nil
	case ExplainJSON:
		data, err := json.MarshalIndent([]*explainNode{toNode(p)}, "", "  ")
		if err != nil {
			return "", errors.Trace(err)
		}
		return string(data), nil
	}
	return "", errors.NotSupportedf("explain format %q", format)
}

func writeText(sb *strings.Builder, p Plan, depth int) {
	if depth == 0 {
		sb.WriteString(p.ToString())
	} else {
		fmt.Fprintf(sb, "%s->  %s", strings.Repeat("  ", depth*2-1), p.ToString())
	}
	if rows := p.GetEstimateRows(); rows > 0 {
		fmt.Fprintf(sb, "  (rows=%d)", rows)
	}
	sb.WriteByte('\n')
	for _, c := range p.Children() {
		writeText(sb, c, depth+1)
	}
}
