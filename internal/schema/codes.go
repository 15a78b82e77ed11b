package schema

// Known motion-host command codes. The listener executes any well-formed
// code; this table exists for readable logs and for resolving the semantic
// labels the model is prompted with.
const (
	CodeStandDown      uint32 = 0x21010202 // toggle lying/standing
	CodeZero           uint32 = 0x21010C05 // re-zero joints
	CodeEmergencyStop  uint32 = 0x21020C0E // soft emergency stop
	CodeSlowWalk       uint32 = 0x21010300
	CodeMediumWalk     uint32 = 0x21010307
	CodeFastWalk       uint32 = 0x21010303
	CodeNormalCrawl    uint32 = 0x21010406
	CodeGripWalk       uint32 = 0x21010402
	CodeObstacleWalk   uint32 = 0x21010401
	CodeHighStepWalk   uint32 = 0x21010407
	CodeTwistBody      uint32 = 0x21010204
	CodeRollOver       uint32 = 0x21010205
	CodeMoonwalk       uint32 = 0x2101030C
	CodeBackflip       uint32 = 0x21010502
	CodeGreet          uint32 = 0x21010507
	CodeJumpForward    uint32 = 0x2101050B
	CodeTwistJump      uint32 = 0x2101020D
	CodeInPlaceMode    uint32 = 0x21010D05
	CodeMobileMode     uint32 = 0x21010D06
	CodeAutonomousMode uint32 = 0x21010C03
	CodeManualMode     uint32 = 0x21010C02
	CodeHeartbeat      uint32 = 0x21040001

	// Axis commands: the same three codes drive posture adjustment in
	// in-place mode and velocity in mobile mode.
	CodeAxisX   uint32 = 0x21010130 // pitch / forward-back
	CodeAxisY   uint32 = 0x21010131 // roll / left-right
	CodeAxisYaw uint32 = 0x21010135 // yaw / turn
	CodeHeight  uint32 = 0x21010102 // body height
)

// semanticCodes maps the descriptive labels used in model prompts to axis
// codes. Posture and move labels intentionally share codes: the active mode
// on the motion host decides the interpretation.
var semanticCodes = map[string]uint32{
	"move_x":        CodeAxisX,
	"move_y":        CodeAxisY,
	"move_yaw":      CodeAxisYaw,
	"posture_pitch": CodeAxisX,
	"posture_roll":  CodeAxisY,
	"posture_yaw":   CodeAxisYaw,
}

// SemanticCode resolves a descriptive label to its command code.
func SemanticCode(label string) (uint32, bool) {
	code, ok := semanticCodes[label]
	return code, ok
}
