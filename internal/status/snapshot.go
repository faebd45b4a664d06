// internal/status/snapshot.go
package status

// Snapshot represents exactly what the exporter is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16

	RPM        int32
	VoltageX10 uint16
	CurrentX10 int16
}
