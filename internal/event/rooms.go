package event

// Room keys. Chat rooms use the raw chat ID; everything else is prefixed.
// A room is just a key with zero or more members, nothing more.

// RoomNotifications is the global broadcast channel every notification
// subscriber joins.
const RoomNotifications = "notifications"

func DocumentRoom(documentID string) string {
	return "document-" + documentID
}

func ProjectRoom(projectID string) string {
	return "project-" + projectID
}

func UserRoom(userID string) string {
	return "user-" + userID
}
