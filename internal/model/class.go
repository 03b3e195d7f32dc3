package model

import "fmt"

// ViolationClass is a registered category of safety-equipment non-compliance.
type ViolationClass struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// classNames is the static detection-class registry. Class ids outside this
// table are produced by the detection engine for non-violation objects and
// are ignored by the tracker.
var classNames = map[int]string{
	0: "Hardhat missing",
	1: "Mask missing",
	2: "Safety vest missing",
	3: "Person in restricted zone",
	4: "Safety goggles missing",
	5: "Gloves missing",
	6: "Fall detected",
	7: "Machinery proximity breach",
}

// ClassName returns the display name for a registered class id.
func ClassName(id int) (string, bool) {
	name, ok := classNames[id]
	return name, ok
}

// ClassNameOrDefault returns the display name for a class id, or a
// synthesized placeholder for unregistered ids.
func ClassNameOrDefault(id int) string {
	if name, ok := classNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Class_%d", id)
}

// Classes returns a copy of the registry.
func Classes() []ViolationClass {
	out := make([]ViolationClass, 0, len(classNames))
	for id, name := range classNames {
		out = append(out, ViolationClass{ID: id, Name: name})
	}
	return out
}
