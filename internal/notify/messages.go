package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var (
	supportedLocales = []language.Tag{language.English, language.SimplifiedChinese}
	localeMatcher    = language.NewMatcher(supportedLocales)
	messages         = buildCatalog()
)

// MatchLocale picks the supported locale closest to an Accept-Language header.
func MatchLocale(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English.String()
	}
	_, idx, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return language.English.String()
	}
	return supportedLocales[idx].String()
}

const guidancePrefix = "guidance."

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range map[string]string{
		string(KindJobCompleted):         "Your %s result is ready.",
		string(KindJobFailed):            "Generation failed: %s",
		string(KindJobTimedOut):          "%s is taking too long. The job may still finish on the server; check your projects later.",
		string(KindUploadFailed):         "Uploading the input file failed: %s",
		string(KindSubmitFailed):         "Submitting the job failed: %s",
		string(KindNetworkUnstable):      "The network looks unstable. Still waiting for the %s result.",
		string(KindProjectSaveFailed):    "The %s result was generated but could not be saved to your projects.",
		guidancePrefix + "out_of_memory": "The image is too large for the model. Try a smaller one.",
		guidancePrefix + "timeout":       "The server took too long. Please try again later.",
		guidancePrefix + "format":        "The file format is not supported. Use PNG, JPEG or MP4.",
	} {
		mustSet(b, language.English, key, text)
	}
	for key, text := range map[string]string{
		string(KindJobCompleted):         "%s 的生成结果已就绪。",
		string(KindJobFailed):            "生成失败：%s",
		string(KindJobTimedOut):          "%s 耗时过长。任务可能仍会在服务器端完成，请稍后在作品中查看。",
		string(KindUploadFailed):         "上传输入文件失败：%s",
		string(KindSubmitFailed):         "提交任务失败：%s",
		string(KindNetworkUnstable):      "网络不稳定，仍在等待 %s 的结果。",
		string(KindProjectSaveFailed):    "%s 的结果已生成，但未能保存到作品中。",
		guidancePrefix + "out_of_memory": "图片过大，请尝试更小的图片。",
		guidancePrefix + "timeout":       "服务器处理超时，请稍后重试。",
		guidancePrefix + "format":        "不支持该文件格式，请使用 PNG、JPEG 或 MP4。",
	} {
		mustSet(b, language.SimplifiedChinese, key, text)
	}
	return b
}

func mustSet(b *catalog.Builder, tag language.Tag, key, text string) {
	if err := b.SetString(tag, key, text); err != nil {
		panic(err)
	}
}

func printer(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}

// render builds the localized text of an event.
func render(e Event) string {
	p := printer(e.Locale)
	var text string
	switch e.Kind {
	case KindJobFailed, KindUploadFailed, KindSubmitFailed:
		text = p.Sprintf(string(e.Kind), e.Detail)
	default:
		text = p.Sprintf(string(e.Kind), e.AppName)
	}
	// A timed-out job may still finish remotely, so retry advice does not apply.
	if e.Kind != KindJobTimedOut && e.Category != "" && e.Category != "generic" {
		key := guidancePrefix + e.Category
		if guidance := p.Sprintf(key); guidance != key {
			text += " " + guidance
		}
	}
	return text
}

func levelOf(kind Kind) Level {
	switch kind {
	case KindJobCompleted:
		return LevelInfo
	case KindNetworkUnstable, KindProjectSaveFailed, KindJobTimedOut:
		return LevelWarning
	default:
		return LevelError
	}
}
