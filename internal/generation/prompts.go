package generation

// Structured content types a notebook can generate from its sources.
const (
	ContentStudyGuide  = "study_guide"
	ContentBriefingDoc = "briefing_doc"
	ContentFAQ         = "faq"
	ContentTimeline    = "timeline"
)

// noteTemplates are the instruction blocks for each content type. All
// of them receive the same numbered-sources block appended after.
var noteTemplates = map[string]string{
	ContentStudyGuide: `You are a research assistant creating a study guide from the numbered sources below.
Produce markdown with these sections:
## Overview - two or three sentences summarizing the material.
## Key Concepts - bulleted definitions of the most important terms and ideas.
## Review Questions - five to eight short-answer questions testing understanding.
## Answer Key - concise answers to the review questions.
Use only information found in the sources.`,

	ContentBriefingDoc: `You are a research assistant writing an executive briefing document from the numbered sources below.
Produce markdown with these sections:
## Summary - the central findings in one short paragraph.
## Key Points - bulleted facts and conclusions, most important first.
## Implications - what these findings mean in practice.
Be factual and concise; use only information found in the sources.`,

	ContentFAQ: `You are a research assistant compiling a FAQ from the numbered sources below.
Produce six to ten question-and-answer pairs in markdown, each formatted as:
**Q:** the question
**A:** the answer
Cover the topics a reader of these sources would most likely ask about. Use only information found in the sources.`,

	ContentTimeline: `You are a research assistant building a chronological timeline from the numbered sources below.
Produce a markdown list, one entry per line, formatted as:
- **<date or period>** - <event and its significance>
Order entries from earliest to latest. If a date is unknown, place the entry where the sources imply it belongs and mark the date as approximate. Use only information found in the sources.`,
}

// ContentTypes lists the supported structured content types.
func ContentTypes() []string {
	return []string{ContentStudyGuide, ContentBriefingDoc, ContentFAQ, ContentTimeline}
}
