package taskname

const (
	// License tasks
	LicenseCheckRecorded = "license:check:recorded"
	LicenseDomainBound   = "license:domain:bound"
	LicenseDomainRevoked = "license:domain:revoked"
)
