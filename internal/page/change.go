package page

// ChangeType classifies what a revision did to a page.
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeModify  ChangeType = "modify"
	ChangeRename  ChangeType = "rename"
	ChangeDelete  ChangeType = "delete"
	ChangeRestore ChangeType = "restore"
	ChangeUndo    ChangeType = "undo"
	ChangeTags    ChangeType = "tags"
)

// Verb returns the past-tense verb used in synthesized commit messages.
func (c ChangeType) Verb() string {
	switch c {
	case ChangeCreate:
		return "created"
	case ChangeModify:
		return "modified"
	case ChangeRename:
		return "renamed"
	case ChangeDelete:
		return "deleted"
	case ChangeRestore:
		return "restored"
	case ChangeUndo:
		return "reverted"
	case ChangeTags:
		return "changed tags on"
	default:
		return "changed"
	}
}
