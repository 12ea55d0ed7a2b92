package poller

// Token is a caller-chosen correlation id linking a registered interest to
// its owner. It is carried to the OS in the event data and echoed back
// verbatim by Wait. A token must stay unique among currently registered
// sources sharing a queue.
type Token uint32

// Interest is a bitmask over the readiness conditions a source can be
// registered for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) IsReadable() bool {
	return i&Readable != 0
}

func (i Interest) IsWritable() bool {
	return i&Writable != 0
}

func (i Interest) String() string {
	switch {
	case i.IsReadable() && i.IsWritable():
		return "READABLE|WRITABLE"
	case i.IsReadable():
		return "READABLE"
	case i.IsWritable():
		return "WRITABLE"
	}
	return "NONE"
}

// Event pairs the interest actually observed by a wait call with the token
// that was registered for it. Produced fresh each wait cycle.
type Event struct {
	Token    Token
	Interest Interest
}
