package entity

// Provider identifies an external calendar or scheduling source.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderCalendly  Provider = "calendly"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderCalendly:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

func ParseProvider(s string) (Provider, bool) {
	p := Provider(s)
	// "outlook" is what the connect UI historically sent for Microsoft 365
	if s == "outlook" {
		p = ProviderMicrosoft
	}
	return p, p.Valid()
}
