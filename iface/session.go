package iface

// Session is a single connection pinned for the duration of a callback.
// Commands that change server-side connection state (such as SELECT) are
// permitted here and observed in issuance order.
type Session interface {
	Commander
}
