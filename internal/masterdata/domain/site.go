package masterdata

// Site is a construction site registered with the platform.
type Site struct {
	ID     int64
	Name   string
	Status string
}
