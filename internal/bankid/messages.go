package bankid

// RFA user messages as published in the BankID relying-party guidelines.
// Indices follow the guideline numbering, which is why the table is sparse.
var rfaMessages = map[int]string{
	1:  "Please start the BankID app.",
	2:  "The BankID app is not installed. Please contact your bank.",
	3:  "Action cancelled. Please try again.",
	4:  "An identification or signing for this personal number is already started. Please try again.",
	5:  "Internal error. Please try again.",
	6:  "Action cancelled.",
	8:  "The BankID app is not responding. Please check that it’s started and that you have internet access. If you don’t have a valid BankID you can get one from your bank. Try again.",
	9:  "Enter your security code in the BankID app and select Identify or Sign.",
	13: "Trying to start your BankID app.",
	15: "Searching for BankID, it may take a little while … If a few seconds have passed and still no BankID has been found, you probably don’t have a BankID which can be used for this identification/signing on this device. If you don't have a BankID you can get one from your bank.",
	16: "The BankID you are trying to use is blocked or too old. Please use another BankID or get a new one from your bank.",
	17: "Failed to scan the QR code. Start the BankID app and scan the QR code. Check that the BankID app is up to date. If you don't have the BankID app, you need to install it and get a BankID from your bank. Install the app from your app store or https://install.bankid.com",
	18: "Start the BankID app.",
	19: "Would you like to identify yourself or sign with a BankID on this computer, or with a Mobile BankID?",
	21: "Identification or signing in progress.",
	22: "Unknown error. Please try again.",
	23: "Process your machine-readable travel document using the BankID app.",
}

// hintCodeRFA maps collect hintCode values to their RFA message index.
var hintCodeRFA = map[string]int{
	"outstandingTransaction": 1,
	"noClient":               1,
	"cancelled":              3,
	"userCancel":             6,
	"expiredTransaction":     8,
	"userSign":               9,
	"started":                15,
	"certificateErr":         16,
	"startFailed":            17,
	"userMrtd":               23,
	"userCallConfirm":        23,
}

// defaultStatusRFA supplies the fallback index when a collect response carries
// no hintCode, or one the table has never seen.
var defaultStatusRFA = map[string]int{
	"pending": 21,
	"failed":  22,
	"success": 21,
}

// statusMessage resolves the user-facing message for a collect status and
// hint code. Unknown combinations fall back to the generic failure text.
func statusMessage(status, hintCode string) string {
	if idx, ok := hintCodeRFA[hintCode]; ok {
		return rfaMessages[idx]
	}
	if idx, ok := defaultStatusRFA[status]; ok {
		return rfaMessages[idx]
	}
	return rfaMessages[22]
}
