package session

// Acquisition steps observable from tests.
const (
	StepSlotCreated        = stepSlotCreated
	StepEncoderPrepared    = stepEncoderPrepared
	StepSurfaceTaken       = stepSurfaceTaken
	StepCallbackRegistered = stepCallbackRegistered
	StepSinkBound          = stepSinkBound
	StepEncoderStarted     = stepEncoderStarted
)

type StartStep = startStep

// SetStepHook installs fn to run after each completed acquisition step.
func SetStepHook(c *Controller, fn func(StartStep)) {
	c.afterStep = fn
}
