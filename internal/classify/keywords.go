package classify

import "stagewhisper/internal/domain"

// categoryPriority fixes the tie-break order when two categories score the
// same. Earlier entries win.
var categoryPriority = []domain.Category{
	domain.CategoryBehavioral,
	domain.CategorySystemDesign,
	domain.CategoryObjectOrientedDesign,
	domain.CategoryCoding,
}

// Categories returns the known categories in priority order.
func Categories() []domain.Category {
	out := make([]domain.Category, len(categoryPriority))
	copy(out, categoryPriority)
	return out
}

// defaultKeywords is the built-in phrase table. Phrases are matched as
// lower-case substrings, so partial stems like "scalab" cover several word
// forms.
func defaultKeywords() map[domain.Category][]string {
	return map[domain.Category][]string{
		domain.CategoryBehavioral: {
			"tell me about a time",
			"tell me about yourself",
			"describe a situation",
			"give me an example of",
			"conflict",
			"disagree",
			"teammate",
			"coworker",
			"stakeholder",
			"leadership",
			"your strength",
			"your weakness",
			"biggest mistake",
			"receive feedback",
			"tight deadline",
			"proud of",
			"why do you want",
			"why should we hire",
		},
		domain.CategorySystemDesign: {
			"design a system",
			"system design",
			"scalab",
			"load balanc",
			"throughput",
			"latency",
			"shard",
			"caching",
			"cache invalidation",
			"microservice",
			"message queue",
			"pub sub",
			"rate limit",
			"high availability",
			"fault toleran",
			"consistent hashing",
			"cap theorem",
			"eventual consistency",
		},
		domain.CategoryObjectOrientedDesign: {
			"object oriented",
			"object-oriented",
			"class diagram",
			"class hierarchy",
			"design pattern",
			"inheritance",
			"polymorphism",
			"encapsulation",
			"interface segregation",
			"solid principles",
			"dependency injection",
			"factory pattern",
			"singleton",
			"parking lot",
			"elevator system",
		},
		domain.CategoryCoding: {
			"algorithm",
			"big o",
			"time complexity",
			"space complexity",
			"data structure",
			"hash table",
			"hash map",
			"linked list",
			"binary tree",
			"binary search",
			"recursion",
			"dynamic programming",
			"two pointer",
			"sliding window",
			"edge case",
			"write a function",
			"reverse a string",
			"palindrome",
		},
	}
}
