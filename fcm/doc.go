// Package fcm provides Android-native FCM (Firebase Cloud Messaging) support
// for an agent device.
//
// It performs GCM device checkin and registration to obtain a push token,
// persists the resulting credentials, and runs an MCS (Mobile Connection
// Server) client that delivers data messages as flat key/value maps.
//
// Usage:
//
//	client := fcm.NewClient(sessionDir, fcm.WithApp(app))
//	client.OnNewToken(func(token string) { ... })
//	client.OnDataMessage(func(msg fcm.DataMessage) { ... })
//	token, err := client.Register(ctx)
//	err = client.Listen(ctx)
package fcm
