package cloud

// StateCode is the cloud's vocabulary for device activity. The values are
// decimal strings on the wire.
type StateCode string

const (
	StateIdle             StateCode = "0"
	StateSerialPrint      StateCode = "1"  // printing a local print over serial
	StatePreparing        StateCode = "2"  // preparing a cloud print (slicing)
	StateCloudPrint       StateCode = "3"  // printing a cloud print
	StatePausedPrint      StateCode = "4"
	StatePostProcessing   StateCode = "5"
	StateCanceling        StateCode = "6"
	StateComplete         StateCode = "7"
	StateUpdating         StateCode = "8"
	StateColdPaused       StateCode = "9"
	StateChangingFilament StateCode = "10"
	StateNetworkPrint     StateCode = "11" // printing a local print over TCP/IP
	StateError            StateCode = "12"
)
