package cvss

// Each base metric category has its own type, an enumeration of the
// abbreviated codes used in vector strings. The zero value of each type means
// "unset".

// AttackVector is the value of the Attack Vector (AV) metric.
type AttackVector byte

// Attack Vector values.
const (
	AttackVectorNetwork  AttackVector = 'N'
	AttackVectorAdjacent AttackVector = 'A'
	AttackVectorLocal    AttackVector = 'L'
	AttackVectorPhysical AttackVector = 'P'
)

// Valid reports whether the value is a defined Attack Vector.
func (v AttackVector) Valid() bool { return MetricAV.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v AttackVector) String() string {
	switch v {
	case AttackVectorNetwork:
		return "Network"
	case AttackVectorAdjacent:
		return "Adjacent"
	case AttackVectorLocal:
		return "Local"
	case AttackVectorPhysical:
		return "Physical"
	}
	return invalidName(MetricAV, byte(v))
}

// AttackComplexity is the value of the Attack Complexity (AC) metric.
type AttackComplexity byte

// Attack Complexity values.
const (
	AttackComplexityLow  AttackComplexity = 'L'
	AttackComplexityHigh AttackComplexity = 'H'
)

// Valid reports whether the value is a defined Attack Complexity.
func (v AttackComplexity) Valid() bool { return MetricAC.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v AttackComplexity) String() string {
	switch v {
	case AttackComplexityLow:
		return "Low"
	case AttackComplexityHigh:
		return "High"
	}
	return invalidName(MetricAC, byte(v))
}

// PrivilegesRequired is the value of the Privileges Required (PR) metric.
//
// The weight of this metric depends on the [Scope].
type PrivilegesRequired byte

// Privileges Required values.
const (
	PrivilegesRequiredNone PrivilegesRequired = 'N'
	PrivilegesRequiredLow  PrivilegesRequired = 'L'
	PrivilegesRequiredHigh PrivilegesRequired = 'H'
)

// Valid reports whether the value is a defined Privileges Required.
func (v PrivilegesRequired) Valid() bool { return MetricPR.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v PrivilegesRequired) String() string {
	switch v {
	case PrivilegesRequiredNone:
		return "None"
	case PrivilegesRequiredLow:
		return "Low"
	case PrivilegesRequiredHigh:
		return "High"
	}
	return invalidName(MetricPR, byte(v))
}

// UserInteraction is the value of the User Interaction (UI) metric.
type UserInteraction byte

// User Interaction values.
const (
	UserInteractionNone     UserInteraction = 'N'
	UserInteractionRequired UserInteraction = 'R'
)

// Valid reports whether the value is a defined User Interaction.
func (v UserInteraction) Valid() bool { return MetricUI.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v UserInteraction) String() string {
	switch v {
	case UserInteractionNone:
		return "None"
	case UserInteractionRequired:
		return "Required"
	}
	return invalidName(MetricUI, byte(v))
}

// Scope is the value of the Scope (S) metric.
type Scope byte

// Scope values.
const (
	ScopeUnchanged Scope = 'U'
	ScopeChanged   Scope = 'C'
)

// Valid reports whether the value is a defined Scope.
func (v Scope) Valid() bool { return MetricS.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v Scope) String() string {
	switch v {
	case ScopeUnchanged:
		return "Unchanged"
	case ScopeChanged:
		return "Changed"
	}
	return invalidName(MetricS, byte(v))
}

// Impact is the value of the Confidentiality (C), Integrity (I), and
// Availability (A) metrics.
type Impact byte

// Impact values.
const (
	ImpactNone Impact = 'N'
	ImpactLow  Impact = 'L'
	ImpactHigh Impact = 'H'
)

// Valid reports whether the value is a defined Impact.
func (v Impact) Valid() bool { return MetricC.valid(byte(v)) }

// String implements [fmt.Stringer].
func (v Impact) String() string {
	switch v {
	case ImpactNone:
		return "None"
	case ImpactLow:
		return "Low"
	case ImpactHigh:
		return "High"
	}
	return invalidName(MetricC, byte(v))
}

func invalidName(m Metric, b byte) string {
	if b == 0 {
		return m.String() + "(Unset)"
	}
	return m.String() + "(" + string(rune(b)) + ")"
}
