package workflow

// Pose is one head orientation required for enrollment.
type Pose struct {
	Name        string
	Instruction string
	Icon        string
}

// DefaultPoses is the five-pose enrollment sequence.
var DefaultPoses = []Pose{
	{Name: "Front", Instruction: "Look straight at the camera", Icon: "👤"},
	{Name: "Left Profile", Instruction: "Turn your head to the left", Icon: "👈"},
	{Name: "Right Profile", Instruction: "Turn your head to the right", Icon: "👉"},
	{Name: "Slight Up", Instruction: "Tilt your head slightly up", Icon: "👆"},
	{Name: "Slight Down", Instruction: "Tilt your head slightly down", Icon: "👇"},
}
