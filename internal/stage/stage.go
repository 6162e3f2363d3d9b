package stage

import "fmt"

// ID identifies one step of the content pipeline. The set is closed: every
// switch over ID in this module lists all six values.
type ID int

const (
	Research ID = iota + 1
	Draft
	Review
	Rewrite
	Publish
	Failure
)

// All lists every stage in pipeline order.
var All = []ID{Research, Draft, Review, Rewrite, Publish, Failure}

// String returns the lower-case stage name used in logs, events and persistence.
func (id ID) String() string {
	switch id {
	case Research:
		return "research"
	case Draft:
		return "draft"
	case Review:
		return "review"
	case Rewrite:
		return "rewrite"
	case Publish:
		return "publish"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("stage(%d)", int(id))
	}
}

// Title returns the display label for the stage.
func (id ID) Title() string {
	switch id {
	case Research:
		return "Research"
	case Draft:
		return "Draft"
	case Review:
		return "Review"
	case Rewrite:
		return "Rewrite"
	case Publish:
		return "Publish"
	case Failure:
		return "Failure"
	default:
		return id.String()
	}
}

// Role returns the agent role whose capability backs the stage. Rewrite reuses
// the writer. Publish and Failure are bookkeeping steps with no capability.
func (id ID) Role() string {
	switch id {
	case Research:
		return RoleResearcher
	case Draft, Rewrite:
		return RoleWriter
	case Review:
		return RoleReviewer
	case Publish, Failure:
		return ""
	default:
		return ""
	}
}

// Terminal reports whether the pipeline stops after the stage.
func (id ID) Terminal() bool {
	switch id {
	case Publish, Failure:
		return true
	case Research, Draft, Review, Rewrite:
		return false
	default:
		return false
	}
}

// Parse converts a stage name back into its ID.
func Parse(name string) (ID, error) {
	for _, id := range All {
		if id.String() == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown stage: %q", name)
}

// MarshalText encodes the stage by name.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a stage name.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Agent roles, keyed in configuration under "agents".
const (
	RoleResearcher = "researcher"
	RoleWriter     = "writer"
	RoleReviewer   = "reviewer"
)
