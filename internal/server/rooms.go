package server

import "strconv"

// RoomName returns the channel shared by the two participants of a direct
// conversation. It is the same whichever order the ids are given in.
func RoomName(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return "chat_" + strconv.Itoa(a) + "_" + strconv.Itoa(b)
}

// PersonalChannel returns the notification channel of a single user.
func PersonalChannel(userId int) string {
	return "user_" + strconv.Itoa(userId)
}
