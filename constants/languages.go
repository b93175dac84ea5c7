package constants

type LanguageType string

const (
	LanguageC      LanguageType = "c"
	LanguageCpp    LanguageType = "cpp"
	LanguageGo     LanguageType = "go"
	LanguagePython LanguageType = "python"
)
