package dynamo

// DynamoDB attribute names used in key and condition expressions.
const (
	fieldVerificationID = "verification_id"
	fieldVersion        = "version"
	fieldExpiresAt      = "expires_at"

	fieldToken        = "token"
	fieldIdentityID   = "identity_id"
	fieldLastActivity = "last_activity"

	fieldEmail          = "email"
	fieldPhone          = "phone"
	fieldEmailConfirmed = "email_confirmed"
	fieldPhoneConfirmed = "phone_confirmed"
	fieldGoogleSub      = "google_sub"
	fieldName           = "name"
	fieldUpdatedAt      = "updated_at"

	indexIdentityID = "identity_id-index"
	indexEmail      = "email-index"
	indexPhone      = "phone-index"
)
