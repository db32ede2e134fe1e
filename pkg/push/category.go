package push

// Category is the platform a device registration resolves to. The zero value
// marks a registration that could not be classified.
type Category int

const (
	Unclassifiable Category = iota
	// Android receives notification-style FCM messages.
	Android
	// AndroidLegacy receives data-only FCM messages.
	AndroidLegacy
	// Ios receives APNS pushes, directly or through the FCM bridge.
	Ios
	// Generic gets a content-free alert understood by any client.
	Generic
)

// Categories lists every deliverable category.
var Categories = []Category{Android, AndroidLegacy, Ios, Generic}

func (c Category) String() string {
	switch c {
	case Android:
		return "Android"
	case AndroidLegacy:
		return "AndroidLegacy"
	case Ios:
		return "Ios"
	case Generic:
		return "Generic"
	default:
		return "Unclassifiable"
	}
}
