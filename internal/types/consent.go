package types

// ConsentType is the GDPR-style purpose a piece of processing is performed for.
type ConsentType string

const (
	ConsentNecessary  ConsentType = "NECESSARY"
	ConsentFunctional ConsentType = "FUNCTIONAL"
	ConsentAnalytics  ConsentType = "ANALYTICS"
	ConsentMarketing  ConsentType = "MARKETING"
)

// RequiresRecord reports whether processing under this type needs an explicit
// consent record. NECESSARY processing never does.
func (c ConsentType) RequiresRecord() bool {
	return c != ConsentNecessary
}

func ParseConsentType(s string) (ConsentType, bool) {
	switch ConsentType(s) {
	case ConsentNecessary, ConsentFunctional, ConsentAnalytics, ConsentMarketing:
		return ConsentType(s), true
	default:
		return "", false
	}
}

// DataCategory classifies the data a consent decision covers.
type DataCategory string

const (
	DataConversation DataCategory = "conversation_data"
	DataPersonal     DataCategory = "personal_data"
	DataContact      DataCategory = "contact_data"
	DataBehavioral   DataCategory = "behavioral_data"
)

func ParseDataCategory(s string) (DataCategory, bool) {
	switch DataCategory(s) {
	case DataConversation, DataPersonal, DataContact, DataBehavioral:
		return DataCategory(s), true
	default:
		return "", false
	}
}
