package link

// Observer receives link activity counters
type Observer interface {
	InitAttempt(ok bool)
	ChunkWritten(n int)
	ChunkRead(n int)
	PacketTransmitted(n int)
	PacketReceived(n int)
	CRCError()
	Overflow()
}

// NopObserver discards all activity
type NopObserver struct{}

func (NopObserver) InitAttempt(bool) {}
func (NopObserver) ChunkWritten(int) {}
func (NopObserver) ChunkRead(int) {}
func (NopObserver) PacketTransmitted(int) {}
func (NopObserver) PacketReceived(int) {}
func (NopObserver) CRCError() {}
func (NopObserver) Overflow() {}
