// internal/status/constants.go
package status

// Motor Status Block layout constants.
// These values define the exported layout and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per motor.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the motor health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last error code (see ErrorCode).
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the motor has been in error.
const SlotSecondsInError = 2

// ---- TELEMETRY ----

// SlotRPMHigh and SlotRPMLow hold the mechanical rpm as int32, high word first.
const SlotRPMHigh = 3
const SlotRPMLow = 4

// SlotVoltage holds the input voltage ×10.
const SlotVoltage = 5

// SlotCurrent holds the motor current ×10 as int16.
const SlotCurrent = 6

// ---- RESERVED RANGE ----

// Slots 7-10 are reserved for future use.
const SlotReservedStart = 7
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the motor name.
// The name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the motor name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the motor name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for the name.
const DeviceNameMaxChars = 16

// MaxSecondsInError is where seconds_in_error saturates.
const MaxSecondsInError = 65535

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown, boot or disconnected state.
const HealthUnknown uint16 = 0

// HealthOK represents a connected motor with fresh telemetry.
const HealthOK uint16 = 1

// HealthError represents a faulted motor or failing polls.
const HealthError uint16 = 2

// HealthStale represents telemetry older than the stale threshold.
const HealthStale uint16 = 3

// HealthDisabled represents a motor disabled in config.
const HealthDisabled uint16 = 4
