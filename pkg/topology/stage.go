package topology

// StageRef names a stage.
type StageRef string

// StageSpec is one materialised stage of a topology.
type StageSpec struct {
	Name  StageRef
	Kind  Kind
	Order int
	// Preceding is the stage this one was placed after; empty for the first stage.
	Preceding StageRef
}

// PrecedingStage returns the stage this one follows, if any.
func (s StageSpec) PrecedingStage() (StageRef, bool) {
	return s.Preceding, s.Preceding != ""
}

// OptionalStage is either a present stage or absent. Lookups return it
// instead of a pointer so callers have to handle the absent case.
type OptionalStage struct {
	stage   StageSpec
	present bool
}

// Present wraps s as a present stage.
func Present(s StageSpec) OptionalStage {
	return OptionalStage{stage: s, present: true}
}

// Absent returns the absent value.
func Absent() OptionalStage {
	return OptionalStage{}
}

// Get returns the stage and whether it is present.
func (o OptionalStage) Get() (StageSpec, bool) {
	return o.stage, o.present
}

// IsAbsent reports whether no stage is held.
func (o OptionalStage) IsAbsent() bool {
	return !o.present
}

// OrElse returns the held stage or fallback when absent.
func (o OptionalStage) OrElse(fallback StageSpec) StageSpec {
	if o.present {
		return o.stage
	}
	return fallback
}

func (o OptionalStage) String() string {
	if !o.present {
		return "absent"
	}
	return string(o.stage.Name)
}
