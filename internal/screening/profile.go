package screening

import (
	"fmt"
	"strconv"
	"strings"
)

// ProfileText flattens an application into the text that gets embedded and
// shown to the summarizer. Empty sections are left out; an application with
// nothing in it yields "".
func ProfileText(app *Application) string {
	if app == nil {
		return ""
	}

	var sections []string

	if s := strings.TrimSpace(app.ResumeText); s != "" {
		sections = append(sections, "Resume:\n"+s)
	}
	if s := strings.TrimSpace(app.CoverLetter); s != "" {
		sections = append(sections, "Cover Letter:\n"+s)
	}

	skills := make([]string, 0, len(app.Skills))
	for _, s := range app.Skills {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}
	if len(skills) > 0 {
		sections = append(sections, "Skills: "+strings.Join(skills, ", "))
	}

	var work []string
	for _, w := range app.WorkHistory {
		title, employer := strings.TrimSpace(w.Title), strings.TrimSpace(w.Employer)
		if title == "" && employer == "" {
			continue
		}
		work = append(work, fmt.Sprintf("%s at %s (%s years)", title, employer, formatYears(w.DurationYears)))
	}
	if len(work) > 0 {
		sections = append(sections, "Experience:\n"+strings.Join(work, "\n"))
	}

	var edu []string
	for _, e := range app.Education {
		degree, inst := strings.TrimSpace(e.Degree), strings.TrimSpace(e.Institution)
		if degree == "" && inst == "" {
			continue
		}
		edu = append(edu, fmt.Sprintf("%s - %s (%s)", degree, inst, strings.TrimSpace(e.Level)))
	}
	if len(edu) > 0 {
		sections = append(sections, "Education:\n"+strings.Join(edu, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// JobText is the text embedded for a job posting.
func JobText(job *JobPosting) string {
	if job == nil {
		return ""
	}
	return strings.TrimSpace(job.Description)
}

func formatYears(y float64) string {
	if y < 0 {
		y = 0
	}
	return strconv.FormatFloat(y, 'f', -1, 64)
}
