package notify

// The fixed, versioned identifier universe. Cancellation always addresses a
// whole family (or the whole universe), never a computed subset, so a skipped,
// deleted, completed, or expired session can never leave an orphaned reminder.
const (
	IDWindowOpen = "dosetap.v1.dose2.window_open"
	IDWarn15Min  = "dosetap.v1.dose2.warn_15m"
	IDWarn5Min   = "dosetap.v1.dose2.warn_5m"

	IDPreAlarm  = "dosetap.v1.wake.pre_alarm"
	IDWakeAlarm = "dosetap.v1.wake.alarm"
	IDFollowUp1 = "dosetap.v1.wake.follow_up_1"
	IDFollowUp2 = "dosetap.v1.wake.follow_up_2"
	IDFollowUp3 = "dosetap.v1.wake.follow_up_3"
)

func doseFamily() []string {
	return []string{IDWindowOpen, IDWarn15Min, IDWarn5Min}
}

func wakeFamily() []string {
	return []string{IDPreAlarm, IDWakeAlarm, IDFollowUp1, IDFollowUp2, IDFollowUp3}
}

// AllIdentifiers returns the complete identifier universe.
func AllIdentifiers() []string {
	return append(doseFamily(), wakeFamily()...)
}
