// Package template renders notification subjects and bodies against run
// context data.
package template

import (
	"fmt"
	"regexp"

	"github.com/dailos/tramite/pkg/models"
)

// placeholderPattern matches {{field}} tokens. Field names follow run
// context keys: letters, digits and underscores.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render substitutes {{field}} placeholders with values from data. Unknown
// fields render as empty strings so a misnamed placeholder never blocks a
// notification.
func Render(templateStr string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(templateStr, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]

		value, ok := data[name]
		if !ok || value == nil {
			return ""
		}

		return fmt.Sprint(value)
	})
}

// RenderForRun renders against the run's context merged with the run's own
// identifiers. Context keys win over the builtins.
func RenderForRun(templateStr string, run *models.Run) string {
	data := map[string]any{
		"run_id":     run.ID,
		"graph_id":   run.GraphID,
		"request_id": run.RequestID,
		"group_id":   run.GroupID,
		"started_by": run.StartedBy,
	}

	for key, value := range run.Context {
		data[key] = value
	}

	return Render(templateStr, data)
}
