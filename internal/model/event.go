package model

// DetectionEvent is the wire shape published by the detection engine for
// each processed frame. Only the class ids matter to the alert pipeline;
// confidence scores and bounding boxes stay on the engine side.
type DetectionEvent struct {
	ID       string  `json:"id"`
	Source   string  `json:"source,omitempty"`
	ClassIDs []int   `json:"class_ids"`
	FrameTS  float64 `json:"frame_ts,omitempty"`
}
