package realtime

import "context"

// route selects the session behaviour for a decoded frame.
func (s *Session) route(ctx context.Context, frame InboundFrame) {
	switch f := frame.(type) {
	case LoginFrame:
		if f.UserID == "" {
			s.logger.Warn("Login attempt with missing user_id")
			s.reply(errorFrame{Type: FrameError, Message: msgMissingUserID})
			return
		}
		s.login(ctx, f.UserID)

	case PingFrame:
		s.reply(pongFrame{Type: FramePong, Timestamp: timestamp(s.clock)})

	case NotificationFrame:
		if f.RecipientID == "" || len(f.Data) == 0 {
			s.reply(errorFrame{Type: FrameError, Message: msgMissingRelayFields})
			return
		}
		if s.bridge.Deliver(ctx, f.RecipientID, f.Data) {
			s.reply(notificationDeliveredFrame{Type: FrameNotificationDelivered, RecipientID: f.RecipientID})
			return
		}
		s.reply(notificationPendingFrame{
			Type:        FrameNotificationPending,
			Message:     msgNotificationPending,
			RecipientID: f.RecipientID,
		})

	case UnknownFrame:
		s.reply(acknowledgmentFrame{Type: FrameAcknowledgment, Message: msgAcknowledgment, ReceivedType: f.Type})
	}
}
