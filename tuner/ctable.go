package tuner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ptcchamber/chamberlab/util"
)

// CTable formats results as the firmware's ptc_pid_table initializer,
// sorted by target temperature
func CTable(results map[string]Result) string {
	rows := make([]Result, 0, len(results))
	for _, name := range util.SortedKeys(results) {
		rows = append(rows, results[name])
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TargetTemp < rows[j].TargetTemp })

	var b strings.Builder
	b.WriteString("typedef struct { float target_temp; float kp; float ki; float kd; } ptc_pid_profile_t;\n\n")
	b.WriteString("const ptc_pid_profile_t ptc_pid_table[] = {\n")
	for _, r := range rows {
		g := r.BestParams
		fmt.Fprintf(&b, "    {%.1ff, %.6ff, %.6ff, %.6ff}, // Score: %.4f\n", r.TargetTemp, g.Kp, g.Ki, g.Kd, r.BestScore)
	}
	b.WriteString("};")
	return b.String()
}
