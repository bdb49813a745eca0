package fallback

// Polarity lexicon for rule-based scoring. Deliberately small: the fallback
// path approximates, it does not compete with the AI path.

var positiveWords = map[string]struct{}{
	"happy": {}, "joy": {}, "joyful": {}, "love": {}, "loved": {}, "loving": {},
	"great": {}, "good": {}, "wonderful": {}, "amazing": {}, "excellent": {},
	"grateful": {}, "thankful": {}, "excited": {}, "calm": {}, "peaceful": {},
	"hopeful": {}, "proud": {}, "fun": {}, "laughed": {}, "laugh": {},
	"supportive": {}, "supported": {}, "connected": {}, "close": {},
	"appreciate": {}, "appreciated": {}, "warm": {}, "kind": {}, "caring": {},
	"better": {}, "best": {}, "enjoyed": {}, "enjoy": {}, "comfort": {},
	"comfortable": {}, "trust": {}, "trusted": {}, "safe": {},
}

var negativeWords = map[string]struct{}{
	"sad": {}, "angry": {}, "anger": {}, "hate": {}, "hated": {}, "hurt": {},
	"bad": {}, "terrible": {}, "awful": {}, "horrible": {}, "worst": {},
	"anxious": {}, "anxiety": {}, "worried": {}, "worry": {}, "stress": {},
	"stressed": {}, "fight": {}, "fought": {}, "argument": {}, "argued": {},
	"lonely": {}, "alone": {}, "distant": {}, "ignored": {}, "upset": {},
	"frustrated": {}, "frustrating": {}, "annoyed": {}, "annoying": {},
	"disappointed": {}, "disappointing": {}, "cry": {}, "cried": {},
	"tired": {}, "exhausted": {}, "afraid": {}, "scared": {}, "fear": {},
	"resentful": {}, "resentment": {}, "cold": {}, "broken": {},
}

var negationWords = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don't": {}, "dont": {}, "didn't": {},
	"didnt": {}, "doesn't": {}, "doesnt": {}, "isn't": {}, "isnt": {},
	"wasn't": {}, "wasnt": {}, "can't": {}, "cant": {}, "won't": {}, "wont": {},
	"hardly": {}, "barely": {}, "without": {},
}

var intensifierWords = map[string]float64{
	"very": 1.5, "really": 1.5, "so": 1.3, "extremely": 2.0, "incredibly": 2.0,
	"totally": 1.5, "completely": 1.5, "absolutely": 1.8, "deeply": 1.6,
	"slightly": 0.5, "somewhat": 0.7, "little": 0.6,
}
