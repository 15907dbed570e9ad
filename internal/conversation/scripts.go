package conversation

import (
	"math/rand/v2"

	"github.com/combot/combot/internal/models"
)

// CannedReply answers indices with no scripted behaviour
const CannedReply = "I understand. How can I help you further?"

const understandingHigh = "I understand how frustrating this must be for you. That's definitely not what we expect."

const understandingLow = "Thank you for the information."

var greetings = map[string]map[string]string{
	models.BrandBasic: {
		models.LevelHigh: "Hi there! I'm Combot, and it's great to meet you. I'm here to help with any product or " +
			"service problems you may have encountered in the past few months. This could include issues like " +
			"a defective product, a delayed package, or a rude employee. My goal is to provide you with the best " +
			"guidance to resolve your issue. Please start by recounting your bad experiences with as many " +
			"details as possible (when, how, and what happened). " +
			"While I specialize in handling these issues, I am not Alexa or Siri. " +
			"Let's work together to resolve your problem!",
		models.LevelLow: "The purpose of Combot is to assist you with any product or service problems you have " +
			"experienced in the past few months. Examples of issues include defective products, delayed packages, or " +
			"rude frontline employees. Combot is designed to provide optimal guidance to resolve your issue. " +
			"Please provide a detailed account of your negative experiences, including when, how, and what occurred. " +
			"Note that Combot specializes in handling product or service issues and is not a general-purpose " +
			"assistant like Alexa or Siri. Let us proceed to resolve your problem.",
	},
	models.BrandLulu: {
		models.LevelHigh: "Hi there! I'm Combot, and it's great to meet you. I'm here to help with any product or " +
			"service problems you may have encountered in the past few months. My goal is to make sure you receive " +
			"the best guidance from me. Let's work together to resolve your issue!",
		models.LevelLow: "The purpose of Combot is to assist with resolution of product/service problems. " +
			"If you have experienced any issues in the past few months, Combot is designed to guide you through " +
			"finding the optimal solution.",
	},
}

var closings = map[string]string{
	models.BrandBasic: "THANK YOU for sharing your experience with me! I will send you a set of comprehensive " +
		"suggestions via email. Please provide your email below...",
	models.BrandLulu: "THANK YOU for sharing your experience with me! I will send you a set of comprehensive " +
		"suggestions via email. Please provide your email address below...",
}

// Greeting returns the opening message for a scenario
func Greeting(s models.Scenario) string {
	byLevel, ok := greetings[s.Brand]
	if !ok {
		byLevel = greetings[models.BrandBasic]
	}
	if msg, ok := byLevel[s.ThinkLevel]; ok {
		return msg
	}
	return byLevel[models.LevelHigh]
}

// Closing returns the closing message for a brand
func Closing(brand string) string {
	if msg, ok := closings[brand]; ok {
		return msg
	}
	return closings[models.BrandBasic]
}

// Understanding returns the acknowledgement sent when a conversation is saved
func Understanding(feelLevel string) string {
	if feelLevel == models.LevelLow {
		return understandingLow
	}
	return understandingHigh
}

// RandomScenario assigns a scenario for brand. An empty brand picks one too.
// The problem type is one of A, B, C.
func RandomScenario(brand string) models.Scenario {
	if brand == "" {
		brand = pick(models.BrandBasic, models.BrandLulu)
	}
	return models.Scenario{
		Brand:       brand,
		ProblemType: pick(models.ProblemTypeA, models.ProblemTypeB, models.ProblemTypeC),
		ThinkLevel:  pick(models.LevelHigh, models.LevelLow),
		FeelLevel:   pick(models.LevelHigh, models.LevelLow),
	}
}

func pick(options ...string) string {
	return options[rand.IntN(len(options))]
}
