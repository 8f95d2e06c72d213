package message

func ChatTopic(roomID string) string {
	return "room." + roomID
}

func VideoTopic(roomID string) string {
	return "video." + roomID
}

func TopicFor(kind TopicKind, roomID string) string {
	if kind == TopicVideo {
		return VideoTopic(roomID)
	}
	return ChatTopic(roomID)
}
