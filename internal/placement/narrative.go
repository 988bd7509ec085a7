package placement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

// BuildNarrative turns a placement request into the prose the embedding is
// generated from: a biography sentence, then education, career, awards, and
// a count per remaining event type. The upstream builds the same text; this
// local copy backs results whose narrative came back empty.
func BuildNarrative(req lifeapi.EmbedRequest) string {
	var parts []string

	name := deref(req.Name)
	description := deref(req.Description)
	if name != "" || description != "" {
		bio := name
		if bio == "" {
			bio = "This person"
		}
		if description != "" {
			bio += fmt.Sprintf(" is %s.", description)
		} else {
			bio += "."
		}
		parts = append(parts, bio)
	}

	// Group events by type, keeping first-appearance order for the generic
	// trailer sentences.
	byType := make(map[string][]lifeapi.LifeEvent)
	var typeOrder []string
	for _, ev := range req.LifeEvents {
		et := ev.EventType
		if et == "" {
			et = "other"
		}
		if _, seen := byType[et]; !seen {
			typeOrder = append(typeOrder, et)
		}
		byType[et] = append(byType[et], ev)
	}

	if edu := byType["education"]; len(edu) > 0 {
		sortByStartDate(edu)
		var eduParts []string
		for _, ev := range edu {
			org := deref(ev.Organization)
			switch {
			case ev.EventTitle != "" && org != "":
				eduParts = append(eduParts, fmt.Sprintf("%s from %s", ev.EventTitle, org))
			case ev.EventTitle != "":
				eduParts = append(eduParts, ev.EventTitle)
			}
		}
		if len(eduParts) == 1 {
			parts = append(parts, fmt.Sprintf("Studied %s.", eduParts[0]))
		} else if len(eduParts) > 1 {
			last := len(eduParts) - 1
			eduStr := strings.Join(eduParts[:last], ", ") + " and " + eduParts[last]
			parts = append(parts, fmt.Sprintf("Educational background includes %s.", eduStr))
		}
	}

	if emp := byType["employment"]; len(emp) > 0 {
		sortByStartDate(emp)
		var empParts []string
		for _, ev := range emp {
			org := deref(ev.Organization)
			switch {
			case ev.EventTitle != "" && org != "":
				empParts = append(empParts, fmt.Sprintf("%s at %s", ev.EventTitle, org))
			case org != "":
				empParts = append(empParts, "worked at "+org)
			case ev.EventTitle != "":
				empParts = append(empParts, ev.EventTitle)
			}
		}
		if len(empParts) > 0 {
			career := strings.Join(empParts, ", ")
			if len(empParts) > 3 {
				career = strings.Join(empParts[:3], ", ") +
					fmt.Sprintf(" and %d other positions", len(empParts)-3)
			}
			parts = append(parts, fmt.Sprintf("Career includes %s.", career))
		}
	}

	if awards := byType["award"]; len(awards) > 0 {
		if len(awards) <= 5 {
			var names []string
			for _, ev := range awards {
				if ev.EventTitle != "" {
					names = append(names, ev.EventTitle)
				}
			}
			if len(names) > 0 {
				parts = append(parts, fmt.Sprintf("Received awards: %s.", strings.Join(names, ", ")))
			}
		} else {
			parts = append(parts, fmt.Sprintf("Received %d awards and honors.", len(awards)))
		}
	}

	for _, et := range typeOrder {
		if et == "education" || et == "employment" || et == "award" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Notable %s events: %d.", et, len(byType[et])))
	}

	narrative := strings.Join(parts, " ")
	if strings.TrimSpace(narrative) == "" {
		narrative = "This person has a diverse background with various life experiences."
	}
	return narrative
}

// sortByStartDate orders events by start date with undated events first.
// ISO-8601 dates compare correctly as strings.
func sortByStartDate(events []lifeapi.LifeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return deref(events[i].StartDate) < deref(events[j].StartDate)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
