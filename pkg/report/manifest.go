package report

// Manifest is the machine-readable result of a build, consumed by deployers.
type Manifest struct {
	Builds []Build `json:"builds"`
}

// Build is one successfully built image.
type Build struct {
	ImageName string `json:"imageName"`
	Tag       string `json:"tag"`
}

// Render lists every artifact of every successful service. Failed services
// are left out; callers find them through Failures.
func Render(r *RunReport) Manifest {
	m := Manifest{Builds: []Build{}}
	for _, e := range r.Entries() {
		if e.Failed() {
			continue
		}
		for _, a := range e.Artifacts {
			m.Builds = append(m.Builds, Build{ImageName: a.ImageName, Tag: a.Ref.String()})
		}
	}
	return m
}

// Tag returns the tag deployed for imageName, if the manifest has it.
func (m Manifest) Tag(imageName string) (string, bool) {
	for _, b := range m.Builds {
		if b.ImageName == imageName {
			return b.Tag, true
		}
	}
	return "", false
}
