package events

const (
	CategoryMaterial = "material"
	CategoryFall     = "fall"
	CategoryVehicle  = "vehicle"
	CategoryUnknown  = "unknown"
)

// CategoryInfo is the canonical classification for a raw device code.
type CategoryInfo struct {
	Category string
	Severity Severity
}

var categoryTable = map[int]CategoryInfo{
	1:  {CategoryMaterial, SeverityLow},
	2:  {CategoryMaterial, SeverityMedium},
	3:  {CategoryMaterial, SeverityAccident},
	4:  {CategoryFall, SeverityLow},
	5:  {CategoryFall, SeverityMedium},
	6:  {CategoryFall, SeverityAccident},
	7:  {CategoryVehicle, SeverityLow},
	8:  {CategoryVehicle, SeverityMedium},
	9:  {CategoryVehicle, SeverityAccident},
	10: {CategoryUnknown, SeverityAccident},
}

// Normalize maps a raw firmware code to its canonical category and
// severity. Codes outside the table fall back to {unknown, -1}; the
// function is total over all integers.
func Normalize(code int) CategoryInfo {
	if info, ok := categoryTable[code]; ok {
		return info
	}
	return CategoryInfo{CategoryUnknown, SeverityUnknown}
}
