package gemini

// outlineSchema is the JSON structure requested for a new course.
type outlineSchema struct {
	CourseName string          `json:"course_name"`
	Chapters   []chapterSchema `json:"chapters"`
}

// chapterSchema is one top-level chapter of an outline.
type chapterSchema struct {
	Name     string       `json:"name"`
	Sections []nameSchema `json:"sections"`
}

// childrenSchema is the JSON structure requested when expanding a node.
type childrenSchema struct {
	Children []nameSchema `json:"children"`
}

// extensionSchema is the JSON structure requested when extending a node.
type extensionSchema struct {
	Content string `json:"content"`
}

type nameSchema struct {
	Name string `json:"name"`
}
